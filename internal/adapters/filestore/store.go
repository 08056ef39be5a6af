package filestore

// store.go — estado compartido entre agentes como documentos JSON.
//
// Estrategia:
//   - Un documento por canal, siempre con `lastUpdated` y una colección con nombre.
//   - Escritura atómica: fichero temporal en el mismo dir + fsync + rename. Un
//     lector de otro proceso nunca ve un documento a medias.
//   - Fichero ausente = "todavía no hay datos" (colección vacía, sin error).
//     Fichero ilegible = ErrCorrupt; el agente loguea y no hace nada ese tick.
//   - Las mutaciones de posiciones y el trade log van bajo flock en
//     `<fichero>.lock` (ver positions.go).

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
)

// Nombres de fichero fijos por canal.
const (
	WatchlistFile      = "watchlist.json"
	ScoresFile         = "scores.json"
	SwingPositionsFile = "positions.json"
	ScalpPositionsFile = "scalp_positions.json"
	TradeLogFile       = "trade_log.json"
	BalanceFile        = "balance.json"
	AnalyticsFile      = "analytics.json"
	ReportFile         = "report.md"
	DiagLogFile        = "diag_log.json"
	HealthFile         = "agent_health.json"
)

var (
	// ErrCorrupt indica un documento que existe pero no se puede decodificar.
	ErrCorrupt = errors.New("corrupt store document")
	// ErrConflict y ErrNotFound son los de ports, re-exportados para los adapters.
	ErrConflict = ports.ErrConflict
	ErrNotFound = ports.ErrNotFound
)

type watchlistDoc struct {
	LastUpdated time.Time             `json:"lastUpdated"`
	Tokens      []domain.WatchedToken `json:"tokens"`
}

type scoresDoc struct {
	LastUpdated time.Time           `json:"lastUpdated"`
	Scores      []domain.TokenScore `json:"scores"`
}

type positionsDoc struct {
	LastUpdated time.Time         `json:"lastUpdated"`
	Positions   []domain.Position `json:"positions"`
}

type tradeLogDoc struct {
	LastUpdated time.Time              `json:"lastUpdated"`
	Trades      []domain.TradeLogEntry `json:"trades"`
}

type balanceDoc struct {
	LastUpdated time.Time               `json:"lastUpdated"`
	Balance     *domain.BalanceSnapshot `json:"balance"`
}

type analyticsDoc struct {
	LastUpdated time.Time                 `json:"lastUpdated"`
	Snapshot    *domain.AnalyticsSnapshot `json:"snapshot"`
}

type diagLogDoc struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Lines       []string  `json:"lines"`
}

type healthDoc struct {
	LastUpdated time.Time                     `json:"lastUpdated"`
	Agents      map[string]domain.AgentHealth `json:"agents"`
}

// Store es el directorio de documentos compartidos. Es seguro usarlo desde
// varias goroutines y varios procesos a la vez.
type Store struct {
	dir string
	now func() time.Time
}

// New abre (creando si hace falta) el directorio del store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore.New: mkdir %q: %w", dir, err)
	}
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Dir devuelve el directorio raíz del store.
func (s *Store) Dir() string { return s.dir }

// Path devuelve la ruta absoluta de un documento.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// ─── Watchlist ────────────────────────────────────────────────────────────────

func (s *Store) LoadWatchlist() ([]domain.WatchedToken, error) {
	var doc watchlistDoc
	if err := readDoc(s.Path(WatchlistFile), &doc); err != nil {
		return nil, err
	}
	return doc.Tokens, nil
}

func (s *Store) SaveWatchlist(tokens []domain.WatchedToken) error {
	return writeDoc(s.Path(WatchlistFile), watchlistDoc{LastUpdated: s.now(), Tokens: nonNil(tokens)})
}

// ─── Scores ───────────────────────────────────────────────────────────────────

func (s *Store) LoadScores() ([]domain.TokenScore, error) {
	var doc scoresDoc
	if err := readDoc(s.Path(ScoresFile), &doc); err != nil {
		return nil, err
	}
	return doc.Scores, nil
}

// SaveScores reemplaza el fichero de scores entero.
func (s *Store) SaveScores(scores []domain.TokenScore) error {
	return writeDoc(s.Path(ScoresFile), scoresDoc{LastUpdated: s.now(), Scores: nonNil(scores)})
}

// ─── Balance / analytics / report / diag ──────────────────────────────────────

func (s *Store) LoadBalance() (*domain.BalanceSnapshot, error) {
	var doc balanceDoc
	if err := readDoc(s.Path(BalanceFile), &doc); err != nil {
		return nil, err
	}
	return doc.Balance, nil
}

func (s *Store) SaveBalance(b domain.BalanceSnapshot) error {
	return writeDoc(s.Path(BalanceFile), balanceDoc{LastUpdated: s.now(), Balance: &b})
}

func (s *Store) LoadAnalytics() (*domain.AnalyticsSnapshot, error) {
	var doc analyticsDoc
	if err := readDoc(s.Path(AnalyticsFile), &doc); err != nil {
		return nil, err
	}
	return doc.Snapshot, nil
}

func (s *Store) SaveAnalytics(snap domain.AnalyticsSnapshot) error {
	return writeDoc(s.Path(AnalyticsFile), analyticsDoc{LastUpdated: s.now(), Snapshot: &snap})
}

// SaveReport escribe el informe legible (markdown) derivado del snapshot.
func (s *Store) SaveReport(markdown string) error {
	return writeFileAtomic(s.Path(ReportFile), []byte(markdown))
}

func (s *Store) LoadDiagLog() ([]string, error) {
	var doc diagLogDoc
	if err := readDoc(s.Path(DiagLogFile), &doc); err != nil {
		return nil, err
	}
	return doc.Lines, nil
}

func (s *Store) SaveDiagLog(lines []string) error {
	return writeDoc(s.Path(DiagLogFile), diagLogDoc{LastUpdated: s.now(), Lines: nonNil(lines)})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// readDoc decodifica path en out. Un fichero ausente o vacío deja out intacto.
func readDoc(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("filestore: %s: %w: %v", filepath.Base(path), ErrCorrupt, err)
	}
	return nil
}

func writeDoc(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic escribe en un temporal único del mismo directorio, hace fsync
// y renombra encima del destino.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp for %s: %w", filepath.Base(path), err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// nonNil serializa colecciones vacías como [] en vez de null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
