package model

// VersionInfo reports the build, the schema state and which optional
// capabilities this process has enabled.
type VersionInfo struct {
	AppVersion       string          `json:"appVersion"`
	DbVersion        string          `json:"dbVersion"`
	Features         map[string]bool `json:"features"`
	MigrationNeeded  bool            `json:"migrationNeeded"`
	MigrationMessage *string         `json:"migrationMessage,omitempty"`
}
