// Package config loads the small set of environment-driven knobs the
// editor binary and engine consult: debug/log verbosity, an optional
// override of the session root's parent directory, and overrides for
// the external binaries the subprocess runner shells out to.
package config

import (
	"strconv"

	"github.com/joho/godotenv"

	"os"
)

// Config holds the engine's environment-derived settings.
type Config struct {
	// Debug enables verbose subprocess-invocation logging.
	Debug bool
	// LogLevel is the slog level name used by internal/livefslog.
	LogLevel string
	// TmpRoot overrides the parent directory new session roots are
	// created under (empty = os.MkdirTemp's default, system tmp).
	TmpRoot string

	// Binary overrides; empty means "resolve the bare name via $PATH".
	MksquashfsBin    string
	UnmkinitramfsBin string
	XorrisoBin       string
	RsyncBin         string
	LosetupBin       string
	MountBin         string
	UmountBin        string
	FindmntBin       string
	UdevadmBin       string
	AptFtparchiveBin string
	GpgBin           string
}

// Load reads configuration from the environment, loading a local .env
// file first if one is present (failing silently otherwise).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Debug:    getEnvBool("LIVEFS_DEBUG", false),
		LogLevel: getEnv("LIVEFS_LOG_LEVEL", "info"),
		TmpRoot:  getEnv("LIVEFS_TMPROOT", ""),

		MksquashfsBin:    getEnv("LIVEFS_MKSQUASHFS_BIN", "mksquashfs"),
		UnmkinitramfsBin: getEnv("LIVEFS_UNMKINITRAMFS_BIN", "unmkinitramfs"),
		XorrisoBin:       getEnv("LIVEFS_XORRISO_BIN", "xorriso"),
		RsyncBin:         getEnv("LIVEFS_RSYNC_BIN", "rsync"),
		LosetupBin:       getEnv("LIVEFS_LOSETUP_BIN", "losetup"),
		MountBin:         getEnv("LIVEFS_MOUNT_BIN", "mount"),
		UmountBin:        getEnv("LIVEFS_UMOUNT_BIN", "umount"),
		FindmntBin:       getEnv("LIVEFS_FINDMNT_BIN", "findmnt"),
		UdevadmBin:       getEnv("LIVEFS_UDEVADM_BIN", "udevadm"),
		AptFtparchiveBin: getEnv("LIVEFS_APT_FTPARCHIVE_BIN", "apt-ftparchive"),
		GpgBin:           getEnv("LIVEFS_GPG_BIN", "gpg"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
