package store

import "errors"

// Store errors.
var (
	// ErrMailboxNotFound is returned when no mailbox matches a username or email.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMailboxExists is returned when creating a mailbox for a username already in use.
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrFolderNotFound is returned when a mailbox has no folder with the given name.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrFolderExists is returned when creating or renaming onto an existing folder name.
	ErrFolderExists = errors.New("folder already exists")

	// ErrFolderNotDeleted is returned when deleting a folder that must not be
	// deleted, such as INBOX.
	ErrFolderNotDeleted = errors.New("folder cannot be deleted")

	// ErrFolderHasChildren is returned when deleting a folder with inferior folders.
	ErrFolderHasChildren = errors.New("folder has child folders")

	// ErrMessageNotFound is returned when a message number or UID doesn't exist.
	ErrMessageNotFound = errors.New("message not found")
)
