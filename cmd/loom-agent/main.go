// loom-agent is a headless client for a loom sequencer daemon. It keeps an
// edit manager in sync over a websocket, reads integer intentions from
// stdin, and optionally checkpoints snapshots to a bbolt database so a
// restart resumes where it left off.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/loomkit/loom"
)

const usage = `loom-agent - headless client for a loom sequencer daemon.

Usage:
    loom-agent [--url=<url>] [--session=<id>] [--db=<path>] [--v=<level>]
    loom-agent -h | --help

Options:
    --url=<url>      Sequencer websocket endpoint [default: ws://localhost:8080/ws].
    --session=<id>   Session identity (minted fresh when omitted).
    --db=<path>      bbolt snapshot database for checkpoint/resume.
    --v=<level>      Log verbosity [default: 1].
    -h --help        Show this screen.`

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		os.Exit(2)
	}
	url, _ := opts.String("--url")
	sessionFlag, _ := opts.String("--session")
	dbPath, _ := opts.String("--db")
	verbosity, _ := opts.String("--v")
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "true")
	flag.Set("v", verbosity)

	family := loom.IntentFamily{}
	anchors := &loom.IntentAnchors{}

	var store *loom.BoltSnapshotStore[loom.IntentChange]
	if dbPath != "" {
		store, err = loom.OpenBoltSnapshotStore(dbPath, family.Encoder())
		if err != nil {
			glog.Exitf("open snapshot store: %v", err)
		}
		defer store.Close()
	}

	clientOpts := loom.ClientOptions[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors]{
		URL:     url,
		Family:  family,
		Anchors: anchors,
		Session: loom.SessionID(sessionFlag),
		OnDelta: func(d loom.IntentDelta) {
			if len(d) > 0 {
				fmt.Printf("delta %v\n", []int(d))
			}
		},
		Store: store,
	}

	client, err := buildClient(clientOpts, store, sessionFlag)
	if err != nil {
		glog.Exitf("build client: %v", err)
	}
	fmt.Printf("session %s\n", client.Session())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	go readStdin(client, stop)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		glog.Exitf("client stopped: %v", err)
	}
}

// buildClient restores from the snapshot store when possible, otherwise
// starts fresh.
func buildClient(
	opts loom.ClientOptions[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors],
	store *loom.BoltSnapshotStore[loom.IntentChange],
	sessionFlag string,
) (*loom.Client[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors], error) {
	if store != nil && sessionFlag != "" {
		snap, err := store.Load(sessionFlag)
		switch {
		case err == nil:
			glog.V(1).Infof("resuming from snapshot: trunk %d, local %d", len(snap.Trunk), len(snap.Local))
			return loom.RestoreClient(opts, snap)
		case errors.Is(err, loom.ErrSnapshotNotFound):
			// fresh start
		default:
			return nil, err
		}
	}
	return loom.NewClient(opts)
}

// readStdin turns stdin lines into submissions: an integer is an edit
// intention, "trunk" and "local" print state, "quit" exits.
func readStdin(
	client *loom.Client[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors],
	stop func(),
) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "quit":
			stop()
			return
		case line == "trunk":
			for _, c := range client.Trunk() {
				fmt.Printf("  seq %d  ref %d  %v\n", c.Seq, c.Ref, []int(c.Change))
			}
		case line == "local":
			for i, c := range client.LocalChanges() {
				fmt.Printf("  [%d] %v\n", i, []int(c))
			}
		default:
			intent, err := strconv.Atoi(line)
			if err != nil {
				fmt.Printf("not an intention: %q\n", line)
				continue
			}
			if _, err := client.Submit(loom.IntentChange{intent}); err != nil {
				fmt.Printf("submit failed: %v\n", err)
			}
		}
	}
	stop()
}
