// Command led-decode classifies LED payloads captured from the game, one hex
// string per argument or per stdin line.
//
// Usage:
//
//	go run ./cmd/led-decode [-frames] [hex ...]
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chaz8081/pgpemu/internal/led"
)

func main() {
	frames := flag.Bool("frames", false, "print every frame")
	flag.Parse()

	failed := false
	if flag.NArg() > 0 {
		for _, arg := range flag.Args() {
			if !decode(os.Stdout, arg, *frames) {
				failed = true
			}
		}
	} else {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !decode(os.Stdout, line, *frames) {
				failed = true
			}
		}
		if err := sc.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading stdin: %v\n", err)
			os.Exit(1)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// decode classifies one hex payload and prints the result. Spaces and colons
// in s are ignored.
func decode(w io.Writer, s string, showFrames bool) bool {
	clean := strings.NewReplacer(" ", "", ":", "").Replace(s)
	buf, err := hex.DecodeString(clean)
	if err != nil {
		fmt.Fprintf(w, "%s: invalid hex: %v\n", s, err)
		return false
	}
	p, err := led.Classify(buf)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", s, err)
		return false
	}

	c := p.Counts
	fmt.Fprintf(w, "%s: %s (frames=%d duration=%s priority=%d)\n", clean, p.Event, len(p.Frames), p.Duration, p.Priority)
	fmt.Fprintf(w, "  off=%d red=%d green=%d blue=%d yellow=%d white=%d other=%d shake=%d\n",
		c.Off, c.Red, c.Green, c.Blue, c.Yellow, c.White, c.Other, c.BallShake)
	if showFrames {
		for i, f := range p.Frames {
			fmt.Fprintf(w, "  %2d %s\n", i, f)
		}
	}
	return true
}
