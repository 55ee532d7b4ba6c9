package consts

import (
	"os"
	"path/filepath"
)

const (
	ParleyDirName  = ".parley"
	ConfigFileName = "config.yaml"

	// MainGroupFolder is the distinguished privileged group. It may act on
	// any other group's tasks and register new groups.
	MainGroupFolder = "main"
)

func ParleyHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ParleyDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(ParleyHomeDir(), ConfigFileName)
}

// GroupsRootDir holds one subdirectory per conversation group: the group's
// workspace, its outbox tree, and its inbox snapshots.
func GroupsRootDir() string {
	return filepath.Join(ParleyHomeDir(), "groups")
}

func StateDir() string {
	return filepath.Join(ParleyHomeDir(), "state")
}

func AuditLogDir() string {
	return filepath.Join(ParleyHomeDir(), "audit")
}
