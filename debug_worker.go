package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// debugState holds the latest sensor map and the watched unique ids.
type debugState struct {
	latest  map[string]Sensor
	watches []string
	rl      *readline.Instance
}

// print outputs a line, handling the readline prompt properly
func (s *debugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// listSensors prints the unique ids of the latest sensor map, optionally
// filtered by a substring.
func (s *debugState) listSensors(filter string) {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}

	uids := make([]string, 0, len(s.latest))
	for uid := range s.latest {
		if filter == "" || strings.Contains(uid, filter) {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)

	s.print("Sensors (%d):", len(uids))
	for _, uid := range uids {
		s.print("  %s", uid)
	}
}

// showSensor prints all fields of one sensor.
func (s *debugState) showSensor(uid string) {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}
	sensor, ok := s.latest[uid]
	if !ok {
		log.Printf("No sensor with unique id: %s", uid)
		return
	}
	s.print("unique_id:     %s", sensor.UniqueID)
	s.print("serial:        %s", sensor.Serial)
	s.print("name:          %s", sensor.Name)
	s.print("friendly_name: %s", sensor.FriendlyName)
	s.print("value:         %s", formatValue(sensor.Value))
	s.print("unit:          %s", sensor.Unit)
	s.print("description:   %s", sensor.Description)
	s.print("icon:          %s", sensor.Icon)
}

// printWatches prints the current value of every watched sensor.
func (s *debugState) printWatches() {
	for _, uid := range s.watches {
		sensor, ok := s.latest[uid]
		if !ok {
			s.print("%s = -", uid)
			continue
		}
		s.print("%s = %s %s", uid, formatValue(sensor.Value), sensor.Unit)
	}
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *debugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "list":
		filter := ""
		if len(parts) > 1 {
			filter = parts[1]
		}
		state.listSensors(filter)

	case "show":
		if len(parts) < 2 {
			log.Println("Usage: show <unique_id>")
			return
		}
		state.showSensor(parts[1])

	case "watch":
		if len(parts) < 2 {
			log.Println("Usage: watch <unique_id>")
			return
		}
		if !slices.Contains(state.watches, parts[1]) {
			state.watches = append(state.watches, parts[1])
			sort.Strings(state.watches)
		}
		log.Printf("Watching: %s", parts[1])

	case "unwatch":
		if len(parts) < 2 {
			log.Println("Usage: unwatch <unique_id> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.watches = state.watches[:0]
			log.Println("All watches removed")
			return
		}
		if i := slices.Index(state.watches, parts[1]); i >= 0 {
			state.watches = slices.Delete(state.watches, i, i+1)
			log.Printf("Unwatched: %s", parts[1])
		} else {
			log.Printf("No watch found for: %s", parts[1])
		}

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list [substring]     - List sensor unique ids")
		fmt.Println("  show <unique_id>     - Show all fields of one sensor")
		fmt.Println("  watch <unique_id>    - Print the value on every poll cycle")
		fmt.Println("  unwatch <unique_id>  - Remove a watch (--all removes every watch)")
		fmt.Println("  help                 - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// historyFilePath returns the path for the debug history file
func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "oceanbridge")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// debugWorker provides interactive introspection of the latest sensor map.
func debugWorker(ctx context.Context, cancel context.CancelFunc, sensorChan <-chan map[string]Sensor) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() { _ = rl.Close() }()

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := &debugState{rl: rl}

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case sensors := <-sensorChan:
			state.latest = sensors
			if len(state.watches) > 0 {
				state.printWatches()
			}
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
