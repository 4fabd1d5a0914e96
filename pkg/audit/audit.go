// Package audit persists a per-dispatch trail to disk. The trail registers
// as the engine's audit capability; every completed dispatch, cached hits
// and failures included, appends one JSON line to the current day's file.
package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/zen-systems/routegate/pkg/task"
)

// Record is one persisted dispatch. Prompts are stored as hashes only so
// the trail can be retained without holding user content.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	Category   string            `json:"category"`
	Risk       task.Risk         `json:"risk"`
	Class      task.TrafficClass `json:"class"`
	Override   string            `json:"override,omitempty"`
	PromptHash string            `json:"prompt_hash"`
	Backend    string            `json:"backend"`
	Confidence float64           `json:"confidence"`
	Cached     bool              `json:"cached"`
	Failed     bool              `json:"failed"`
	Attempts   []task.Attempt    `json:"attempts,omitempty"`
}

// Trail appends dispatch records to baseDir/dispatch-YYYY-MM-DD.jsonl.
type Trail struct {
	baseDir string

	mu  sync.Mutex
	now func() time.Time
}

// NewTrail creates a trail rooted at baseDir, creating it if needed.
func NewTrail(baseDir string) (*Trail, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Trail{baseDir: baseDir, now: time.Now}, nil
}

// SetClock overrides the trail clock, for tests.
func (tr *Trail) SetClock(now func() time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.now = now
}

// RecordDispatch appends one record for a completed dispatch. Write errors
// are swallowed; the trail must never affect dispatch outcomes.
func (tr *Trail) RecordDispatch(t task.Task, resp task.Response) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	ts := tr.now().UTC()
	rec := Record{
		Timestamp:  ts,
		Category:   t.Category,
		Risk:       t.Risk,
		Class:      t.Class,
		Override:   t.Override,
		PromptHash: hashPrompt(t.Prompt),
		Backend:    resp.Backend,
		Confidence: resp.Confidence,
		Cached:     resp.Cached,
		Failed:     resp.Failed,
		Attempts:   resp.Attempts,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(tr.dayFile(ts), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(data, '\n'))
}

// ReadDay returns every record written on the given day, oldest first.
func (tr *Trail) ReadDay(day time.Time) ([]Record, error) {
	data, err := os.ReadFile(tr.dayFile(day.UTC()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("corrupt audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (tr *Trail) dayFile(ts time.Time) string {
	return filepath.Join(tr.baseDir, "dispatch-"+ts.Format("2006-01-02")+".jsonl")
}

// hashPrompt fingerprints a prompt with a length prefix so distinct prompts
// never collide by concatenation.
func hashPrompt(prompt string) string {
	h := blake3.New()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(prompt)))
	h.Write(n[:])
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
