// Package notify presents desktop notifications identified by stable keys.
// Showing a notification under a key that is already shown replaces it.
package notify

import (
	"log"
	"sync"
)

type Notification struct {
	Title string
	Body  string
	// Icon is a themed icon name.
	Icon string
}

// Notifier shows and withdraws notifications. Implementations must treat
// ids as stable keys: a second Show with the same id replaces the first.
type Notifier interface {
	Show(id string, n Notification) error
	Withdraw(id string) error
}

// Logger is a Notifier for sessions without a notification server. It only
// logs and tracks which ids are shown.
type Logger struct {
	logger *log.Logger
	mu     sync.Mutex
	shown  map[string]Notification
}

func NewLogger(logger *log.Logger) *Logger {
	return &Logger{logger: logger, shown: make(map[string]Notification)}
}

func (l *Logger) Show(id string, n Notification) error {
	l.mu.Lock()
	l.shown[id] = n
	l.mu.Unlock()
	l.logger.Printf("[notify] %s: %s: %s", id, n.Title, n.Body)
	return nil
}

func (l *Logger) Withdraw(id string) error {
	l.mu.Lock()
	_, ok := l.shown[id]
	delete(l.shown, id)
	l.mu.Unlock()
	if ok {
		l.logger.Printf("[notify] %s withdrawn", id)
	}
	return nil
}

// Shown returns the notifications currently shown, by id.
func (l *Logger) Shown() map[string]Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	shown := make(map[string]Notification, len(l.shown))
	for id, n := range l.shown {
		shown[id] = n
	}
	return shown
}
