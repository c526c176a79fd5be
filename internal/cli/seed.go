package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/listbridge/internal/harness"
	"github.com/roach88/listbridge/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database  string
	DropCache bool
}

// SeedFile is the YAML document the seed command reads. Lists use the
// same shape as a scenario's lists.
type SeedFile struct {
	Lists []harness.SeedList `yaml:"lists"`
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Database string `json:"database"`
	Lists    int    `json:"lists"`
	Records  int    `json:"records"`
	Seq      int64  `json:"seq"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("Seeded %d record(s) in %d list(s) into %s (seq %d)", r.Records, r.Lists, r.Database, r.Seq)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Write lists of records into the store",
		Long: `Read a YAML file of lists and write every record into the store,
creating the database if needed. Existing records with the same id are
replaced.

File format:
  lists:
    - namespace: folders
      name: acct1
      records:
        - { id: f1, key: Inbox, data: { id: f1, name: Inbox, type: inbox } }

Examples:
  listbridge seed fixtures.yaml
  listbridge seed fixtures.yaml --db mail.db --drop-cache`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().BoolVar(&opts.DropCache, "drop-cache", false, "drop the store cache after writing")

	return cmd
}

func runSeed(ctx context.Context, opts *SeedOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	f, err := os.Open(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeSeed, "failed to open seed file", err)
	}
	defer f.Close()

	seed, err := ParseSeedFile(f)
	if err != nil {
		return out.Fail(ExitCommandError, CodeSeed, fmt.Sprintf("invalid seed file %s", path), err)
	}

	st, err := store.Open(cfg.Database, store.WithLogger(newLogger(out.GetErrWriter(), cfg)))
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open store", err)
	}
	defer st.Close()

	result := SeedResult{Database: cfg.Database, Lists: len(seed.Lists)}
	for _, l := range seed.Lists {
		out.VerboseLog("seeding %s/%s (%d records)", l.Namespace, l.Name, len(l.Records))
		result.Records += len(l.Records)
	}
	if err := harness.Seed(ctx, st, seed.Lists); err != nil {
		return out.Fail(ExitFailure, CodeStore, "failed to seed store", err)
	}
	if opts.DropCache {
		if err := st.DropCache(ctx); err != nil {
			return out.Fail(ExitFailure, CodeStore, "failed to drop cache", err)
		}
	}
	if result.Seq, err = st.Seq(ctx); err != nil {
		return out.Fail(ExitFailure, CodeStore, "failed to read store clock", err)
	}

	return out.Success(result)
}

// ParseSeedFile decodes and checks a seed document. Unknown fields are
// rejected.
func ParseSeedFile(r io.Reader) (*SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty seed file")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(seed.Lists) == 0 {
		return nil, errors.New("lists is required")
	}
	for i, l := range seed.Lists {
		if l.Namespace == "" {
			return nil, fmt.Errorf("lists[%d]: namespace is required", i)
		}
		seen := make(map[string]bool, len(l.Records))
		for j, rec := range l.Records {
			if rec.ID == "" {
				return nil, fmt.Errorf("lists[%d].records[%d]: id is required", i, j)
			}
			if seen[rec.ID] {
				return nil, fmt.Errorf("lists[%d].records[%d]: duplicate id %q", i, j, rec.ID)
			}
			seen[rec.ID] = true
		}
	}
	return &seed, nil
}
