package client

import (
	"fmt"

	"github.com/roach88/listbridge/internal/loop"
)

// AccountsListView is the entire-list view of all accounts.
type AccountsListView struct {
	*EntireListView
}

// AccountByID returns the account with id, or nil.
func (v *AccountsListView) AccountByID(id string) *Account {
	if it, ok := v.ByID(id).(*Account); ok {
		return it
	}
	return nil
}

// EventuallyAccountByID resolves with the account once the view holds it.
// It rejects when the view completes without it.
func (v *AccountsListView) EventuallyAccountByID(id string) *loop.Future {
	return eventually(v.EntireListView, func() Item {
		if a := v.AccountByID(id); a != nil {
			return a
		}
		return nil
	}, "account", id)
}

// DefaultAccount returns the enabled account with the highest default
// priority, falling back to the first account.
func (v *AccountsListView) DefaultAccount() *Account {
	var best *Account
	for _, it := range v.Items() {
		a, ok := it.(*Account)
		if !ok || !a.Enabled {
			continue
		}
		if best == nil || a.DefaultPriority > best.DefaultPriority {
			best = a
		}
	}
	if best == nil && v.Len() > 0 {
		best, _ = v.At(0).(*Account)
	}
	return best
}

// FoldersListView is the entire-list view of one account's folders.
type FoldersListView struct {
	*EntireListView
	accountID string
}

// AccountID returns the account whose folders are shown.
func (v *FoldersListView) AccountID() string { return v.accountID }

// FolderByID returns the folder with id, or nil.
func (v *FoldersListView) FolderByID(id string) *Folder {
	if it, ok := v.ByID(id).(*Folder); ok {
		return it
	}
	return nil
}

// EventuallyFolderByID resolves with the folder once the view holds it.
func (v *FoldersListView) EventuallyFolderByID(id string) *loop.Future {
	return eventually(v.EntireListView, func() Item {
		if f := v.FolderByID(id); f != nil {
			return f
		}
		return nil
	}, "folder", id)
}

// Inbox returns the account's inbox folder, or nil.
func (v *FoldersListView) Inbox() *Folder {
	for _, it := range v.Items() {
		if f, ok := it.(*Folder); ok && f.Type == "inbox" {
			return f
		}
	}
	return nil
}

// eventually resolves with find's result as soon as it is non-nil, checking
// after every applied update. Once the view is complete a miss rejects.
func eventually(v *EntireListView, find func() Item, kind, id string) *loop.Future {
	if it := find(); it != nil {
		return loop.Resolved(it)
	}
	if v.Complete() {
		return loop.Rejected(fmt.Errorf("no %s %q", kind, id))
	}

	p := loop.NewPromise()
	var unsubscribe func()
	unsubscribe = v.OnComplete(func(*EntireListView) {
		unsubscribe()
		if it := find(); it != nil {
			_ = p.Resolve(it)
			return
		}
		_ = p.Reject(fmt.Errorf("no %s %q", kind, id))
	})
	return p.Future()
}
