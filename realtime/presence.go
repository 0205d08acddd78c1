package realtime

import "sync"

// PresenceRegistry — потокобезопасная мультикарта userID -> живые
// соединения. Живёт только в памяти процесса: после рестарта состояние
// пересобирается заново по мере переподключений.
type PresenceRegistry struct {
	mu    sync.RWMutex
	conns map[int]map[*Client]struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		conns: make(map[int]map[*Client]struct{}),
	}
}

func (p *PresenceRegistry) Register(userID int, client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		set = make(map[*Client]struct{})
		p.conns[userID] = set
	}
	set[client] = struct{}{}
}

// Unregister убирает одно соединение. Запись о пользователе исчезает,
// только когда закрылось последнее. Отключение незарегистрированного
// соединения — no-op, не ошибка.
func (p *PresenceRegistry) Unregister(userID int, client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(p.conns, userID)
	}
}

func (p *PresenceRegistry) IsOnline(userID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

func (p *PresenceRegistry) ListOnline() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]int, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	return ids
}

// Handles возвращает снимок всех соединений пользователя: доставка идёт во
// все вкладки, не только в одну.
func (p *PresenceRegistry) Handles(userID int) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[userID]
	handles := make([]*Client, 0, len(set))
	for c := range set {
		handles = append(handles, c)
	}
	return handles
}
