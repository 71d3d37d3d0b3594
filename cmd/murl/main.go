package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/murl-dev/murl"
	"github.com/murl-dev/murl/client"
	"github.com/murl-dev/murl/schema"
)

type options struct {
	Data    []string `short:"d" long:"data" description:"request parameter as key=value or a JSON object literal; repeatable"`
	Headers []string `short:"H" long:"header" description:"custom header as 'Name: value'; repeatable"`
	NoAuth  bool     `long:"no-auth" description:"skip credential lookup and send unauthenticated"`
	Login   bool     `long:"login" description:"run a fresh authorization before sending"`
	Timeout int      `long:"timeout" description:"request timeout in seconds" default:"30"`
	Verbose bool     `short:"v" long:"verbose" description:"print delivery details on stderr"`
	Version bool     `long:"version" description:"print version and exit"`
	Args    struct {
		URL string `positional-arg-name:"url" description:"virtual MCP URL, e.g. https://host/mcp/tools"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &options{}
	if _, err := flags.ParseArgs(opts, args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.Version {
		fmt.Printf("%s %s (%s %s/%s)\n", schema.ClientName, schema.ClientVersion,
			runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return 0
	}
	if opts.Args.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: a URL argument is required")
		return 1
	}

	mcpClient, err := murl.New(&murl.Options{
		Timeout: time.Duration(opts.Timeout) * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	result, err := mcpClient.Execute(context.Background(), &client.Request{
		URL:        opts.Args.URL,
		Data:       opts.Data,
		Headers:    opts.Headers,
		NoAuth:     opts.NoAuth,
		ForceLogin: opts.Login,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "method: %s, delivery: %s\n", result.Method, result.Mode)
	}
	output, err := formatPayload(result.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(output)
	return 0
}

// formatPayload re-indents the payload for the terminal; non-JSON payloads
// pass through untouched.
func formatPayload(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "null", nil
	}
	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return string(payload), nil
	}
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format response: %v", err)
	}
	return string(formatted), nil
}
