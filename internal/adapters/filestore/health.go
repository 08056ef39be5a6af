package filestore

import "github.com/alejandrodnm/snipebot/internal/domain"

// LoadHealth devuelve el último estado publicado por cada agente.
func (s *Store) LoadHealth() (map[string]domain.AgentHealth, error) {
	var doc healthDoc
	if err := readDoc(s.Path(HealthFile), &doc); err != nil {
		return nil, err
	}
	return doc.Agents, nil
}

// SaveHealth reemplaza la entrada de h.Agent sin tocar las de los demás
// agentes, que escriben el mismo documento desde otros procesos.
func (s *Store) SaveHealth(h domain.AgentHealth) error {
	path := s.Path(HealthFile)
	return withLock(path, func() error {
		var doc healthDoc
		if err := readDoc(path, &doc); err != nil {
			return err
		}
		if doc.Agents == nil {
			doc.Agents = make(map[string]domain.AgentHealth)
		}
		doc.Agents[h.Agent] = h
		doc.LastUpdated = s.now()
		return writeDoc(path, doc)
	})
}
