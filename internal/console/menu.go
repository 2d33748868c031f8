package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AK1OS/file-transfer/internal/client"
	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/filesystem"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/progress"
)

// Engine is the set of transfers the menu can start
type Engine interface {
	SendFile(ctx context.Context, filePath string) (*client.SequentialResult, error)
	SendFileParallel(ctx context.Context, filePath string, numThreads int) (*client.ParallelResult, error)
	SendDirectory(ctx context.Context, dirPath string) (*client.DirectoryResult, error)
}

// Menu choices
const (
	ChoiceSequential = "1"
	ChoiceParallel   = "2"
	ChoiceDirectory  = "3"
)

const separator = "========================================"

// Menu is the interactive loop. Every choice runs one transfer; its failure
// is reported and the loop continues.
type Menu struct {
	engine   Engine
	prompter *Prompter
	console  *progress.Console
	server   string
}

// NewMenu creates a menu for the server at address
func NewMenu(engine Engine, prompter *Prompter, console *progress.Console, address string) *Menu {
	return &Menu{
		engine:   engine,
		prompter: prompter,
		console:  console,
		server:   address,
	}
}

// Run shows the menu until the operator quits, input ends or ctx is done
func (m *Menu) Run(ctx context.Context) error {
	m.console.Println(separator)
	m.console.Println("   File transfer client")
	m.console.Println("   Server: %s", m.server)
	m.console.Println(separator)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.console.Println("")
		m.console.Println("Select an operation:")
		m.console.Println("1. Send a file (sequential)")
		m.console.Println("2. Send a file (parallel)")
		m.console.Println("3. Send a directory")
		m.console.Println("q. Quit")

		choice, err := m.prompter.Ask("Choice (1/2/3/q): ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		choice = strings.TrimSpace(choice)
		if choice == "q" || choice == "Q" {
			m.console.Println("Goodbye!")
			return nil
		}
		m.handleChoice(ctx, choice)
	}
}

func (m *Menu) handleChoice(ctx context.Context, choice string) {
	switch choice {
	case ChoiceSequential, ChoiceParallel, ChoiceDirectory:
	default:
		m.console.Println("Invalid choice, enter 1, 2, 3 or q")
		return
	}

	prompt := "File path: "
	if choice == ChoiceDirectory {
		prompt = "Directory path: "
	}
	path, err := m.prompter.Ask(prompt)
	if err != nil {
		return
	}
	path = strings.TrimSpace(path)

	if !m.validatePath(path, choice != ChoiceDirectory) {
		return
	}

	threads := config.DefaultThreads
	if choice == ChoiceParallel {
		threads = m.askThreads()
	}

	m.console.Println("")
	m.console.Println(separator)
	m.console.Println("   Starting transfer...")
	m.console.Println(separator)

	if err := m.transfer(ctx, choice, path, threads); err != nil {
		logging.LogError(err, "transfer")
		m.console.Println("Transfer failed: %v", err)
	} else {
		m.console.Println("Transfer finished")
	}
	m.console.Println(strings.Repeat("=", len(separator)))
}

func (m *Menu) transfer(ctx context.Context, choice, path string, threads int) error {
	switch choice {
	case ChoiceSequential:
		result, err := m.engine.SendFile(ctx, path)
		if err != nil {
			return err
		}
		slog.Info("Sequential transfer complete", "file", result.FileName, "bytes_sent", result.BytesSent)
	case ChoiceParallel:
		result, err := m.engine.SendFileParallel(ctx, path, threads)
		if err != nil {
			return err
		}
		slog.Info("Parallel transfer complete", "session_id", result.Session.SessionID, "chunks", len(result.Chunks))
	case ChoiceDirectory:
		result, err := m.engine.SendDirectory(ctx, path)
		if err != nil {
			return err
		}
		m.console.Println("Items: %d succeeded, %d failed", result.SuccessCount, result.FailCount)
	}
	return nil
}

// validatePath checks that path exists and is a regular file or a
// directory as requested
func (m *Menu) validatePath(path string, wantFile bool) bool {
	var err error
	if wantFile {
		_, err = filesystem.RequireRegularFile(path)
	} else {
		_, err = filesystem.RequireDirectory(path)
	}
	if err == nil {
		return true
	}

	if errors.Is(err, filesystem.ErrRootDirectory) {
		m.console.Println("Cannot send the filesystem root: %s", path)
	} else if _, statErr := filesystem.GetFileInfo(path); statErr != nil {
		m.console.Println("Path does not exist: %s", path)
	} else if wantFile {
		m.console.Println("Path is not a regular file: %s", path)
	} else {
		m.console.Println("Path is not a directory: %s", path)
	}
	return false
}

// askThreads reads a thread count, clamped to the supported range.
// Unparseable input falls back to the default.
func (m *Menu) askThreads() int {
	input, err := m.prompter.Ask("Thread count (1-16): ")
	if err != nil {
		return config.DefaultThreads
	}

	threads, ok := ParseThreads(input)
	if !ok {
		m.console.Println("Using default thread count: %d", threads)
	}
	return threads
}

// ParseThreads converts operator input to a thread count in
// [MinThreads, MaxThreads]. Input that is not a number yields
// DefaultThreads and false.
func ParseThreads(input string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return config.DefaultThreads, false
	}
	if n < config.MinThreads {
		return config.MinThreads, true
	}
	if n > config.MaxThreads {
		return config.MaxThreads, true
	}
	return n, true
}
