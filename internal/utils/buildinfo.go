package utils

import (
	"runtime/debug"
)

const (
	unknownVersion      = "unknown"
	develVersion        = "(devel)"
	develVersionPrefix  = "devel-"
	dirtyVersionSuffix  = "-dirty"
	vcsRevisionKey      = "vcs.revision"
	vcsModifiedKey      = "vcs.modified"
	shortRevisionLength = 12
)

// GetApplicationVersion reports the ctxchat module version stamped by go install.
// Local builds fall back to the VCS revision the toolchain recorded.
func GetApplicationVersion() string {
	buildInfo, buildInfoAvailable := debug.ReadBuildInfo()
	if !buildInfoAvailable {
		return unknownVersion
	}
	return versionFromBuildInfo(buildInfo)
}

func versionFromBuildInfo(buildInfo *debug.BuildInfo) string {
	if version := buildInfo.Main.Version; version != "" && version != develVersion {
		return version
	}

	revision := ""
	modified := false
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case vcsRevisionKey:
			revision = setting.Value
		case vcsModifiedKey:
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return unknownVersion
	}
	if len(revision) > shortRevisionLength {
		revision = revision[:shortRevisionLength]
	}
	version := develVersionPrefix + revision
	if modified {
		version += dirtyVersionSuffix
	}
	return version
}
