package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail <sandbox_id>",
	Short: "Stream a sandbox's live log lines",
	Long: `Connects to sandboxd's WebSocket log stream and prints lines as they
arrive until interrupted.

Example:
  sandboxctl tail abc123`,
	Args: cobra.ExactArgs(1),
	Run:  runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) {
	id := args[0]

	wsURL := strings.Replace(addr, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	u, err := url.Parse(wsURL + "/ws/" + id)
	checkError(err, "Invalid address")

	printInfo("Tailing logs for sandbox %s...", id)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	checkError(err, "Failed to connect")
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			dimPrint("connection closed: %v\n", err)
			return
		}
		fmt.Println(string(message))
	}
}
