package orchestrator

import (
	"bytes"
	"sync"
)

// Ring es el buffer circular de líneas de diagnóstico de todos los agentes.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing crea un buffer de size líneas (mínimo 1).
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{lines: make([]string, size)}
}

// Add añade una línea, descartando la más antigua si está lleno.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines devuelve una copia en orden cronológico.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Writer devuelve un io.Writer que parte lo escrito en líneas y las añade al
// buffer con el prefijo dado. Las líneas incompletas esperan al siguiente \n.
func (r *Ring) Writer(prefix string) *LineWriter {
	return &LineWriter{ring: r, prefix: prefix}
}

// LineWriter adapta un stream de bytes (stdout/stderr de un hijo, o el
// logger del propio orchestrator) al Ring.
type LineWriter struct {
	ring   *Ring
	prefix string

	mu  sync.Mutex
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		if len(line) > 0 {
			w.ring.Add(w.prefix + string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush añade lo que quede pendiente sin \n final.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.ring.Add(w.prefix + string(w.buf))
		w.buf = nil
	}
}
