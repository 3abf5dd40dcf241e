// Пакет lifecycle — конечный автомат жизненного цикла Manager.
//
//	stopped → starting → alive → closed
//	              ↓        ↓
//	            failed → closed
//
// starting → closed — Close во время ожидания сигнала alive.
// closed — конечное состояние.
//
// Потокобезопасен через sync.RWMutex.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State — состояние Manager.
type State string

const (
	// StateStopped — Manager создан, Start не вызывался
	StateStopped State = "stopped"
	// StateStarting — ожидание сигнала alive и первичная сверка
	StateStarting State = "starting"
	// StateAlive — Watcher работает, события обрабатываются
	StateAlive State = "alive"
	// StateFailed — Watcher не запустился или завершился
	StateFailed State = "failed"
	// StateClosed — Manager остановлен
	StateClosed State = "closed"
)

// ErrInvalidTransition — переход недопустим из текущего состояния.
var ErrInvalidTransition = errors.New("недопустимый переход")

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateStopped:  {StateStarting: true, StateClosed: true},
	StateStarting: {StateAlive: true, StateFailed: true, StateClosed: true},
	StateAlive:    {StateFailed: true, StateClosed: true},
	StateFailed:   {StateClosed: true},
	StateClosed:   {},
}

// StateMachine — конечный автомат жизненного цикла.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// NewStateMachine создаёт автомат в состоянии stopped.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateStopped,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет, допустим ли переход.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход. Ошибка оборачивает ErrInvalidTransition.
func (sm *StateMachine) TransitionTo(target State, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransitions[sm.current][target] {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sm.current, target)
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	return nil
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}
