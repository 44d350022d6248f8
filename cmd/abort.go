package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/initializ/slipway/config"
)

var abortAddr string

var abortCmd = &cobra.Command{
	Use:   "abort <runId>",
	Short: "Ask the serve daemon to cancel the active run",
	Long: "Abort requests cancellation of a run started through `slipway serve`. The run\n" +
		"stops at its next stage boundary; a stage already executing is not preempted.",
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().StringVar(&abortAddr, "addr", "", "daemon address (default: manifest server.addr)")
}

func runAbort(cmd *cobra.Command, args []string) error {
	runID := args[0]
	prefs := userPrefs()

	addr := abortAddr
	if addr == "" {
		addr = prefs.ServerAddr
	}
	if addr == "" {
		cfgPath, err := resolveConfigPath()
		if err != nil {
			return err
		}
		m, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		anchorManifestPaths(m, filepath.Dir(cfgPath))
		addr = m.Server.Addr
	}

	url := daemonURL(addr) + "/api/runs/" + runID + "/abort"
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reaching daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Printf("run %s aborting; it stops at the next stage boundary\n", runID)
		return nil
	case http.StatusConflict:
		return fmt.Errorf("run %s is not active: %s", runID, httpErrorMessage(body))
	case http.StatusNotFound:
		return fmt.Errorf("no such run: %s", runID)
	default:
		return fmt.Errorf("daemon returned %s: %s", resp.Status, httpErrorMessage(body))
	}
}

// daemonURL turns a listen address like ":8530" or "0.0.0.0:8530" into a
// base URL a client can dial.
func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	} else if strings.HasPrefix(host, "0.0.0.0:") {
		host = "localhost" + strings.TrimPrefix(host, "0.0.0.0")
	}
	return "http://" + host
}

func httpErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
