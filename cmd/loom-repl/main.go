// loom-repl is an interactive demo of the edit manager. It runs an
// in-process sequencer and any number of client sessions over the integer
// intent family, so the mint/sequence/receive cycle of a collaborative
// document can be stepped through by hand.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sanity-io/litter"

	"github.com/loomkit/loom"
)

// outboxEntry is a minted edit waiting to be sequenced: the authored form
// of the change and the sequence number observed at authoring time.
type outboxEntry struct {
	change loom.IntentChange
	ref    loom.SeqNumber
}

// session is one simulated participant.
type session struct {
	manager  *loom.EditManager[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors]
	anchors  *loom.IntentAnchors
	view     []int
	outbox   []outboxEntry
	received loom.SeqNumber
}

// REPL holds the state of the interactive run.
type REPL struct {
	sequencer *loom.Sequencer[loom.IntentChange]
	sessions  map[string]*session
	reader    *bufio.Reader
}

func main() {
	fmt.Println("Loom REPL - Collaborative Edit Manager Demo")
	fmt.Println("Type 'help' for available commands, 'quit' to exit")
	fmt.Println()

	repl := &REPL{
		sequencer: loom.NewSequencer[loom.IntentChange](),
		sessions:  make(map[string]*session),
		reader:    bufio.NewReader(os.Stdin),
	}

	for {
		fmt.Print("loom> ")
		input, err := repl.reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nGoodbye!")
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if !repl.handleCommand(input) {
			break
		}
	}
}

func (r *REPL) handleCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		r.printHelp()

	case "quit", "exit":
		fmt.Println("Goodbye!")
		return false

	case "new":
		if len(args) != 1 {
			fmt.Println("Usage: new <name>")
			break
		}
		r.newSession(args[0])

	case "mint":
		if len(args) != 2 {
			fmt.Println("Usage: mint <name> <intent>")
			break
		}
		r.mint(args[0], args[1])

	case "seq":
		if len(args) != 1 {
			fmt.Println("Usage: seq <name>")
			break
		}
		r.sequence(args[0])

	case "recv":
		if len(args) != 1 {
			fmt.Println("Usage: recv <name>")
			break
		}
		r.receive(args[0], false)

	case "pump":
		if len(args) != 1 {
			fmt.Println("Usage: pump <name>")
			break
		}
		r.receive(args[0], true)

	case "trunk":
		if s := r.session(args); s != nil {
			for _, c := range s.manager.Trunk() {
				fmt.Printf("  seq %d  ref %d  %s  %v\n", c.Seq, c.Ref, shortID(c.Session), []int(c.Change))
			}
		}

	case "local":
		if s := r.session(args); s != nil {
			for i, c := range s.manager.LocalChanges() {
				fmt.Printf("  [%d] %v\n", i, []int(c))
			}
		}

	case "anchors":
		if s := r.session(args); s != nil {
			fmt.Printf("  %v\n", s.anchors.Intents)
		}

	case "view":
		if s := r.session(args); s != nil {
			fmt.Printf("  %v\n", s.view)
		}

	case "dump":
		if s := r.session(args); s != nil {
			fmt.Println(litter.Sdump(s.manager.Snapshot()))
		}

	default:
		fmt.Printf("Unknown command: %s (try 'help')\n", cmd)
	}

	return true
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  new <name>            create a client session
  mint <name> <intent>  author a local edit with an integer intention
  seq <name>            sequence the oldest unsequenced edit of <name>
  recv <name>           deliver the next sequenced commit to <name>
  pump <name>           deliver every pending sequenced commit to <name>
  trunk <name>          show <name>'s trunk
  local <name>          show <name>'s local branch
  anchors <name>        show <name>'s anchor intentions
  view <name>           show the view accumulated from emitted deltas
  dump <name>           litter-dump <name>'s snapshot
  quit                  exit`)
}

func (r *REPL) session(args []string) *session {
	if len(args) != 1 {
		fmt.Println("Usage: <command> <name>")
		return nil
	}
	s, ok := r.sessions[args[0]]
	if !ok {
		fmt.Printf("No such session: %s\n", args[0])
		return nil
	}
	return s
}

func (r *REPL) newSession(name string) {
	if _, ok := r.sessions[name]; ok {
		fmt.Printf("Session %s already exists\n", name)
		return
	}
	anchors := &loom.IntentAnchors{}
	manager, err := loom.NewEditManager(loom.Options[loom.IntentChange, loom.IntentDelta, *loom.IntentAnchors]{
		Family:      loom.IntentFamily{},
		Anchors:     anchors,
		DebugChecks: true,
	})
	if err != nil {
		fmt.Printf("Error creating manager: %v\n", err)
		return
	}
	if err := manager.SetLocalSessionID(loom.SessionID(name)); err != nil {
		fmt.Printf("Error setting session id: %v\n", err)
		return
	}
	r.sessions[name] = &session{manager: manager, anchors: anchors}
	fmt.Printf("Created session %s\n", name)
}

func (r *REPL) mint(name, intentStr string) {
	s, ok := r.sessions[name]
	if !ok {
		fmt.Printf("No such session: %s\n", name)
		return
	}
	intent, err := strconv.Atoi(intentStr)
	if err != nil {
		fmt.Printf("Not an integer intention: %s\n", intentStr)
		return
	}
	change := loom.IntentChange{intent}
	ref := s.received
	delta, err := s.manager.AddLocalChange(change)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	s.view = loom.ApplyIntentDelta(s.view, delta)
	s.outbox = append(s.outbox, outboxEntry{change: change, ref: ref})
	fmt.Printf("Minted %v, delta %v\n", []int(change), []int(delta))
}

func (r *REPL) sequence(name string) {
	s, ok := r.sessions[name]
	if !ok {
		fmt.Printf("No such session: %s\n", name)
		return
	}
	if len(s.outbox) == 0 {
		fmt.Printf("Session %s has nothing to sequence\n", name)
		return
	}
	entry := s.outbox[0]
	s.outbox = s.outbox[1:]
	commit, err := r.sequencer.Sequence(loom.SessionID(name), entry.ref, entry.change)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Sequenced %v as seq %d (ref %d)\n", []int(commit.Change), commit.Seq, commit.Ref)
}

func (r *REPL) receive(name string, all bool) {
	s, ok := r.sessions[name]
	if !ok {
		fmt.Printf("No such session: %s\n", name)
		return
	}
	pending := r.sequencer.Since(s.received)
	if len(pending) == 0 {
		fmt.Printf("Session %s is up to date\n", name)
		return
	}
	if !all {
		pending = pending[:1]
	}
	for _, commit := range pending {
		delta, err := s.manager.AddSequencedChange(commit)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		s.view = loom.ApplyIntentDelta(s.view, delta)
		s.received = commit.Seq
		fmt.Printf("Received seq %d from %s, delta %v, view %v\n",
			commit.Seq, shortID(commit.Session), []int(delta), s.view)
	}
}

func shortID(id loom.SessionID) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
