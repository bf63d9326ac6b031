package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sandboxID string

var sendCmd = &cobra.Command{
	Use:   "send <payload.json>",
	Short: "Deliver a message to a sandbox run via the debug surface",
	Long: `Posts a JSON payload to a running sandboxd, driving one sandbox run
to completion and reporting its exit status.

Example:
  sandboxctl send --sandbox-id abc123 message.json`,
	Args: cobra.ExactArgs(1),
	Run:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sandboxID, "sandbox-id", "", "sandbox id to run under (generated if omitted)")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) {
	filename := args[0]
	data, err := os.ReadFile(filename)
	checkError(err, "Failed to read payload file")

	var payload map[string]interface{}
	checkError(json.Unmarshal(data, &payload), "Payload is not valid JSON")

	printInfo("Delivering %s...", filename)

	url := addr + "/debug/deliver/" + sandboxID
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	checkError(err, "Failed to connect to sandboxd")
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	checkError(err, "Failed to read response")

	if resp.StatusCode != http.StatusOK {
		fatal("run failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Kind     string `json:"kind"`
		ExitCode int    `json:"exit_code"`
	}
	checkError(json.Unmarshal(body, &result), "Failed to parse response")

	printSuccess("run completed: %s (exit code %d)", result.Kind, result.ExitCode)
	fmt.Println()
}
