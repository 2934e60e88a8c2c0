package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/refractionPOINT/duologsync/config"
	"github.com/refractionPOINT/duologsync/duo"
)

// logMu guards the writers, which the log file and run swap while the
// health check may be logging.
var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

func logError(format string, elems ...interface{}) string {
	s := fmt.Sprintf(format+"\n", elems...)
	logMu.Lock()
	defer logMu.Unlock()
	errOut.Write([]byte(s))
	return s
}

func log(format string, elems ...interface{}) {
	s := fmt.Sprintf(format+"\n", elems...)
	logMu.Lock()
	defer logMu.Unlock()
	io.WriteString(logOut, s)
}

// swapLogOutputs replaces both writers with what wrap returns for the
// current ones and returns the replaced pair.
func swapLogOutputs(wrap func(out, errs io.Writer) (io.Writer, io.Writer)) (io.Writer, io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	prevOut, prevErr := logOut, errOut
	logOut, errOut = wrap(prevOut, prevErr)
	return prevOut, prevErr
}

func setLogOutputs(out, errs io.Writer) {
	swapLogOutputs(func(io.Writer, io.Writer) (io.Writer, io.Writer) {
		return out, errs
	})
}

func printConfig(method string, c interface{}) {
	b, _ := yaml.Marshal(c)
	log("Configs in use (%s):\n----------------------------------\n%s----------------------------------\n", method, string(b))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "duologsync",
		Short: "duologsync ships Duo Admin API logs",
		Long: "duologsync polls the Duo Admin API authentication, administrator and\n" +
			"telephony log endpoints and writes every event as one JSON line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCheckCmd(), newRunCmd(), newConnectivityCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("error: %v", err)
		os.Exit(1)
	}
}

// installConfig loads the config and publishes it in store.
func installConfig(store *config.Store, filePath string, overrides []string) error {
	cfg, err := loadConfig(filePath, overrides)
	if err != nil {
		return err
	}
	return store.Set(cfg)
}

func loadConfig(filePath string, overrides []string) (*config.Config, error) {
	l := &config.Loader{
		Log: func(msg string) {
			log("%s", msg)
		},
	}
	return l.FromFile(filePath, overrides...)
}

// reportUnused logs the settings this binary validates but does not act on.
func reportUnused(cfg *config.Config) {
	t := cfg.Transport()
	log("transport %s to %s is not used, events are written to stdout", t.Protocol, t.Address())
	if cfg.RecoverFromCheckpoint() {
		log("recoverFromCheckpoint is enabled, checkpoints in %s are not read", cfg.CheckpointDir())
	}
}

func applyLogging(o duo.Options) duo.Options {
	o.DebugLog = func(msg string) {
		log("DBG %s: %s", time.Now().Format(time.Stamp), msg)
	}
	o.OnWarning = func(msg string) {
		log("WRN %s: %s", time.Now().Format(time.Stamp), msg)
	}
	o.OnError = func(err error) {
		logError("ERR %s: %s", time.Now().Format(time.Stamp), err.Error())
	}
	return o
}

func statsLines(stats map[string]duo.EndpointStats) []string {
	endpoints := make([]string, 0, len(stats))
	for ep := range stats {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	lines := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		s := stats[ep]
		lines = append(lines, fmt.Sprintf("%s shipped=%d filtered=%d duplicates=%d errors=%d cursor=%s last_poll=%s", ep, s.Shipped, s.Filtered, s.Duplicates, s.Errors, s.Cursor.UTC().Format(time.RFC3339), s.LastPoll.Format(time.Stamp)))
	}
	return lines
}
