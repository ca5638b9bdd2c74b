package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stateCmd reads live state from a running server: the world by default, or
// one player when PID0 PID1 are given.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/world"
	if fs.NArg() > 0 {
		pid, err := parseWords(fs.Args(), 2)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad pid:", err)
			os.Exit(2)
		}
		u = fmt.Sprintf("%s/v1/state/%d/%d", strings.TrimRight(strings.TrimSpace(*baseURL), "/"), pid[0], pid[1])
	}
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	do(req, 5*time.Second)
}

// flushCmd drains the settlement queue of a running server.
func flushCmd(args []string) {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	token := fs.String("token", os.Getenv("TD_ADMIN_TOKEN"), "admin token")
	_ = fs.Parse(args)

	if strings.TrimSpace(*token) == "" {
		fmt.Fprintln(os.Stderr, "missing -token (or TD_ADMIN_TOKEN)")
		os.Exit(2)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/settlement/flush"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(*token))
	do(req, 10*time.Second)
}

func do(req *http.Request, timeout time.Duration) {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
