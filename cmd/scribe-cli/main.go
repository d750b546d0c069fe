// Command scribe-cli is a small operator tool for driving a running
// scribe server from a terminal: it has no business logic of its
// own, it only talks the same NDJSON streaming protocol the RPC
// layer exposes to any client.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

type downloadEvent struct {
	Type       string `json:"Type"`
	Downloaded int64  `json:"Downloaded"`
	Total      int64  `json:"Total"`
	Error      string `json:"Error"`
}

func main() {
	server := flag.String("server", "http://127.0.0.1:50051", "base URL of the scribe server")
	model := flag.String("model", "", "model name to download, e.g. small.en")
	flag.Parse()

	if *model == "" {
		log.Fatal("-model is required")
	}

	url := fmt.Sprintf("%s/v1/models/%s/download", *server, *model)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("server returned status %d", resp.StatusCode)
	}

	var bar *progressbar.ProgressBar
	var total int64
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		var evt downloadEvent
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "STARTING":
			fmt.Printf("downloading %s...\n", *model)
		case "DOWNLOADING":
			if bar == nil {
				bar = progressbar.DefaultBytes(evt.Total, *model)
			}
			bar.Set64(evt.Downloaded)
			total = evt.Total
		case "COMPLETE":
			if bar != nil {
				bar.Finish()
			}
			// COMPLETE carries no sizes; report the last total seen.
			fmt.Printf("\n%s downloaded (%s)\n", *model, humanize.Bytes(uint64(total)))
		case "CANCELED":
			fmt.Println("\ndownload canceled")
			os.Exit(1)
		case "FAILED":
			fmt.Printf("\ndownload failed: %s\n", evt.Error)
			os.Exit(1)
		}
	}

	if err := sc.Err(); err != nil {
		log.Fatalf("reading download stream: %v", err)
	}
}
