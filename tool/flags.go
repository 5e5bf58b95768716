package tool

import (
	"flag"

	"github.com/moyoez/docdrop/types"
)

// SetFlags parses CLI flags and returns the override config.
func SetFlags() types.Config {
	var cfg types.Config
	flag.StringVar(&cfg.Log, "log", "", "log mode: dev|prod|none")
	flag.StringVar(&cfg.UseConfigPath, "useConfigPath", "", "override config file path")
	flag.IntVar(&cfg.UsePort, "usePort", 0, "override listen port")
	flag.StringVar(&cfg.UseDataDir, "useDataDir", "", "override data directory (database, blobs, spool)")
	flag.StringVar(&cfg.UseSpoolDir, "useSpoolDir", "", "override chunk spool directory")
	flag.StringVar(&cfg.UseStore, "useStore", "", "upload session store: memory|redis")
	flag.StringVar(&cfg.UseBlob, "useBlob", "", "blob store: local|minio")
	flag.StringVar(&cfg.UseNotifySock, "useNotifySocket", "", "forward file events to this unix socket")
	flag.Parse()
	return cfg
}
