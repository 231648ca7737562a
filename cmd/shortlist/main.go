// Command shortlist is an interactive product research assistant. It talks
// through what you need, searches the web for candidates, builds a living
// comparison table, and answers questions about the results.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/matt-house-e/shortlist/pkg/agent"
	metricsmw "github.com/matt-house-e/shortlist/pkg/agent/middleware/metrics"
	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/contextmgr"
	"github.com/matt-house-e/shortlist/pkg/enrich"
	"github.com/matt-house-e/shortlist/pkg/explorer"
	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/metrics"
	"github.com/matt-house-e/shortlist/pkg/persistence"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/search"
	"github.com/matt-house-e/shortlist/pkg/state"
	"github.com/matt-house-e/shortlist/pkg/workflow"
)

func main() {
	projectDir := flag.String("project", "", "project directory (defaults to cwd)")
	resume := flag.Bool("resume", true, "resume the most recent interrupted session")
	flag.Parse()

	if err := run(*projectDir, *resume); err != nil {
		fmt.Fprintf(os.Stderr, "shortlist: %v\n", err)
		os.Exit(1)
	}
}

func run(projectDir string, resume bool) error {
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		projectDir = wd
	}

	if err := config.LoadConfig(projectDir); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	if err := unlockSecrets(projectDir); err != nil {
		return err
	}

	logger := logx.NewLogger("main")

	session, conv, err := openSession(cfg, projectDir, resume, logger)
	if err != nil {
		return err
	}
	db := persistence.GetDB()
	defer func() { _ = persistence.Close() }()

	recorder := metricsmw.Nop()
	if cfg.Metrics != nil && cfg.Metrics.ListenAddr != "" {
		recorder = metricsmw.NewPrometheusRecorder()
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	factory := agent.NewClientFactoryWithRecorder(cfg, recorder)
	chat, err := factory.CreateClient(agent.RoleChat, session, logger)
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}

	searchClient, err := newSearchClient(cfg)
	if err != nil {
		return err
	}

	exp, err := explorer.New(chat, searchClient, cfg.Search, logx.NewLogger("explorer"))
	if err != nil {
		return fmt.Errorf("failed to create explorer: %w", err)
	}
	enricher := enrich.NewEngine(
		enrich.NewLatticeBackend(searchClient, cfg.Enrich, logx.NewLogger("lattice")),
		logx.NewLogger("enrich"),
	)
	engine := workflow.NewEngine(chat, exp, enricher, conv, logx.NewLogger("workflow"))

	return repl(engine, session, db, projectDir, cfg)
}

// unlockSecrets decrypts the secrets file when one exists. API keys from the
// environment still work without one.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}
	fmt.Print("Secrets password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	secrets, err := config.DecryptSecretsFile(projectDir, string(password))
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// openSession initializes the database and either resumes the most recent
// interrupted session or starts a fresh one.
func openSession(cfg config.Config, projectDir string, resume bool, logger *logx.Logger) (*state.Session, *contextmgr.ContextManager, error) {
	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(projectDir, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	session := state.NewSession()
	conv := contextmgr.NewContextManagerWithConfig(cfg.Context)

	if err := persistence.Initialize(dbPath, session.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := persistence.GetDB()

	if resume {
		prev, err := persistence.GetMostRecentResumableSession(db)
		if err != nil {
			return nil, nil, err
		}
		if prev != nil {
			restored, err := state.LoadSession(db, prev.SessionID)
			if err == nil {
				if stored, ctxErr := persistence.GetSessionContext(db, prev.SessionID); ctxErr == nil && stored != nil {
					if dErr := conv.Deserialize([]byte(stored.MessagesJSON)); dErr != nil {
						logger.Warn("Failed to restore conversation context: %v", dErr)
					}
				}
				persistence.SetSessionID(prev.SessionID)
				if err := persistence.UpdateSessionStatus(db, prev.SessionID, persistence.SessionStatusActive); err != nil {
					logger.Warn("Failed to reactivate session %s: %v", prev.SessionID, err)
				}
				logger.Info("Resumed session %s in phase %s", restored.ID, restored.Phase)
				fmt.Printf("Resuming your previous session (phase: %s).\n\n", restored.Phase)
				return restored, conv, nil
			}
			logger.Warn("Failed to restore session %s, starting fresh: %v", prev.SessionID, err)
		}
	}

	snapshot, err := persistence.ConfigSnapshotToJSON(cfg)
	if err != nil {
		snapshot = "{}"
	}
	if err := persistence.CreateSession(db, session.ID, snapshot); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, conv, nil
}

func newSearchClient(cfg config.Config) (search.Client, error) {
	provider, err := config.GetModelProvider(cfg.Models.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to determine search model provider: %w", err)
	}
	if provider != config.ProviderOpenAI {
		return nil, fmt.Errorf("search model %q: only OpenAI models support web search", cfg.Models.Search)
	}
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, err
	}
	return search.NewOpenAIClient(apiKey, cfg.Models.Search), nil
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving Prometheus metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics endpoint failed: %v", err)
	}
}

const banner = `shortlist - product research assistant

Tell me what you're shopping for and I'll research it.
Commands: /table  /csv  /cost  /quit`

// repl runs the interactive loop until /quit, EOF, or an interrupt.
func repl(engine *workflow.Engine, session *state.Session, db *sql.DB, projectDir string, cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Saving session...")
		cancel()
	}()

	fmt.Println(banner)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// One event per session is processed at a time; the lock covers the
	// whole mutate-and-save cycle.
	locks := state.NewManager()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, line, session, projectDir, cfg); quit {
				break
			}
			continue
		}

		event := buildEvent(session, line)
		unlock := locks.Lock(session.ID)
		reply, err := engine.ProcessEvent(ctx, session, event)
		if err == nil {
			saveProgress(db, engine, session)
		}
		unlock()
		if err != nil {
			fmt.Printf("Sorry, I couldn't process that: %v\n", err)
			continue
		}
		printReply(reply)

		if session.Phase.IsTerminal() {
			break
		}
	}

	return shutdown(db, engine, session)
}

// buildEvent turns a line of input into a protocol event. A bare number
// while a checkpoint is pending selects that choice; everything else is a
// message.
func buildEvent(session *state.Session, line string) *proto.Event {
	if session.AwaitingConfirmation() {
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(session.ActionChoices) {
			return proto.NewConfirmationEvent(session.AwaitingCheckpoint, session.ActionChoices[n-1].ID)
		}
	}
	return proto.NewMessageEvent(line)
}

func printReply(reply *proto.Reply) {
	fmt.Println()
	fmt.Println(reply.Content)
	if reply.TableMarkdown != "" {
		fmt.Println()
		fmt.Println(reply.TableMarkdown)
	}
	if len(reply.Choices) > 0 {
		fmt.Println()
		for i, c := range reply.Choices {
			fmt.Printf("  [%d] %s\n", i+1, c.Label)
		}
		fmt.Println("\nEnter a number, or just keep typing.")
	}
	fmt.Println()
}

// runCommand handles slash commands. Returns true when the loop should exit.
func runCommand(ctx context.Context, line string, session *state.Session, projectDir string, cfg config.Config) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true

	case "/table":
		if session.Table == nil || session.Table.RowCount() == 0 {
			fmt.Println("No results yet.")
			return false
		}
		fmt.Println(session.Table.Markdown(50, true, true))

	case "/csv":
		if session.Table == nil || session.Table.RowCount() == 0 {
			fmt.Println("No results yet.")
			return false
		}
		path := filepath.Join(projectDir, fmt.Sprintf("shortlist-%s.csv", time.Now().Format("20060102-150405")))
		if err := os.WriteFile(path, []byte(session.Table.CSV(true)), 0o644); err != nil {
			fmt.Printf("Failed to write CSV: %v\n", err)
			return false
		}
		fmt.Printf("Exported to %s\n", path)

	case "/cost":
		printCost(ctx, session, cfg)

	default:
		fmt.Println("Commands: /table  /csv  /cost  /quit")
	}
	return false
}

func printCost(ctx context.Context, session *state.Session, cfg config.Config) {
	if cfg.Metrics == nil || cfg.Metrics.PrometheusURL == "" {
		fmt.Println("Cost reporting requires metrics.prometheus_url in the config.")
		return
	}
	svc, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Printf("Failed to reach Prometheus: %v\n", err)
		return
	}
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	usage, err := svc.GetSessionMetrics(queryCtx, session.ID)
	if err != nil {
		fmt.Printf("Failed to query usage: %v\n", err)
		return
	}
	fmt.Printf("Session usage: %d tokens (%d prompt, %d completion), $%.4f\n",
		usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens, usage.TotalCost)

	byModel, err := svc.GetSessionMetricsByModel(queryCtx, session.ID)
	if err != nil || len(byModel) == 0 {
		return
	}
	for name, m := range byModel {
		fmt.Printf("  %-30s %8d tokens  $%.4f\n", name, m.TotalTokens, m.TotalCost)
	}
}

func saveProgress(db *sql.DB, engine *workflow.Engine, session *state.Session) {
	if err := state.SaveSession(db, session); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save session: %v\n", err)
	}
	if data, err := engine.Conversation().Serialize(); err == nil {
		if err := persistence.SaveSessionContext(db, session.ID, string(data)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save conversation: %v\n", err)
		}
	}
}

func shutdown(db *sql.DB, engine *workflow.Engine, session *state.Session) error {
	saveProgress(db, engine, session)

	status := persistence.SessionStatusShutdown
	if session.Phase.IsTerminal() {
		status = persistence.SessionStatusCompleted
	}
	if err := persistence.UpdateSessionStatus(db, session.ID, status); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	fmt.Println("Session saved. Bye!")
	return nil
}
