package ipc

import "path/filepath"

// On-disk layout under the groups root:
//
//	<root>/<folder>/workspace          agent working directory
//	<root>/<folder>/outbox/messages    sandbox -> relay sends
//	<root>/<folder>/outbox/tasks       sandbox -> relay task mutations
//	<root>/<folder>/inbox              relay -> sandbox (group snapshots)
//	<root>/errors/<folder>/            quarantined message files
const (
	errorsDirName   = "errors"
	outboxDirName   = "outbox"
	inboxDirName    = "inbox"
	messagesDirName = "messages"
	tasksDirName    = "tasks"
)

func GroupDir(root, folder string) string {
	return filepath.Join(root, folder)
}

func MessagesDir(root, folder string) string {
	return filepath.Join(root, folder, outboxDirName, messagesDirName)
}

func TasksDir(root, folder string) string {
	return filepath.Join(root, folder, outboxDirName, tasksDirName)
}

func InboxDir(root, folder string) string {
	return filepath.Join(root, folder, inboxDirName)
}

func QuarantineDir(root, folder string) string {
	return filepath.Join(root, errorsDirName, folder)
}
