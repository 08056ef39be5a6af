package filestore

import (
	"fmt"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
)

func positionsFile(strategy domain.Strategy) string {
	if strategy == domain.StrategyScalp {
		return ScalpPositionsFile
	}
	return SwingPositionsFile
}

// LoadPositions devuelve todas las posiciones (abiertas y cerradas) de una estrategia.
func (s *Store) LoadPositions(strategy domain.Strategy) ([]domain.Position, error) {
	var doc positionsDoc
	if err := readDoc(s.Path(positionsFile(strategy)), &doc); err != nil {
		return nil, err
	}
	return doc.Positions, nil
}

// OpenPositions filtra LoadPositions a las abiertas.
func (s *Store) OpenPositions(strategy domain.Strategy) ([]domain.Position, error) {
	all, err := s.LoadPositions(strategy)
	if err != nil {
		return nil, err
	}
	open := all[:0:0]
	for _, p := range all {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open, nil
}

// InsertPosition añade una posición nueva. El ID tiene que ser único.
func (s *Store) InsertPosition(p domain.Position) error {
	path := s.Path(positionsFile(p.Strategy))
	return withLock(path, func() error {
		var doc positionsDoc
		if err := readDoc(path, &doc); err != nil {
			return err
		}
		for _, existing := range doc.Positions {
			if existing.ID == p.ID {
				return fmt.Errorf("filestore.InsertPosition: %s: %w: duplicate id", p.ID, ErrConflict)
			}
		}
		p.Version = 1
		doc.Positions = append(doc.Positions, p)
		doc.LastUpdated = s.now()
		return writeDoc(path, doc)
	})
}

// UpdatePosition es el compare-and-swap de posiciones: bajo el lock relee el
// documento, pasa una copia de la posición a fn y, si fn no devuelve error,
// la guarda con Version+1. fn verifica el estado previo esperado y devuelve
// ErrConflict para abortar sin escribir. Las posiciones cerradas son inmutables.
func (s *Store) UpdatePosition(strategy domain.Strategy, id string, fn func(*domain.Position) error) (domain.Position, error) {
	path := s.Path(positionsFile(strategy))
	var out domain.Position

	err := withLock(path, func() error {
		var doc positionsDoc
		if err := readDoc(path, &doc); err != nil {
			return err
		}
		idx := -1
		for i := range doc.Positions {
			if doc.Positions[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("filestore.UpdatePosition: %s: %w", id, ErrNotFound)
		}
		current := doc.Positions[idx]
		if !current.IsOpen() {
			out = current
			return fmt.Errorf("filestore.UpdatePosition: %s: %w", id, domain.ErrPositionClosed)
		}

		next := current
		if err := fn(&next); err != nil {
			out = current
			return err
		}
		next.ID = current.ID
		next.Version = current.Version + 1
		doc.Positions[idx] = next
		doc.LastUpdated = s.now()
		if err := writeDoc(path, doc); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// LoadTrades devuelve el trade log completo en orden de escritura.
func (s *Store) LoadTrades() ([]domain.TradeLogEntry, error) {
	var doc tradeLogDoc
	if err := readDoc(s.Path(TradeLogFile), &doc); err != nil {
		return nil, err
	}
	return doc.Trades, nil
}

// AppendTrades añade entradas al final del trade log. Nunca reescribe ni
// reordena las existentes.
func (s *Store) AppendTrades(entries ...domain.TradeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	path := s.Path(TradeLogFile)
	return withLock(path, func() error {
		var doc tradeLogDoc
		if err := readDoc(path, &doc); err != nil {
			return err
		}
		doc.Trades = append(doc.Trades, entries...)
		doc.LastUpdated = s.now()
		return writeDoc(path, doc)
	})
}

var _ ports.PositionStore = (*Store)(nil)
