// Package userlock реализует реестр мьютексов по идентификатору пользователя.
// Операции "прочитал-изменил-записал" над счетчиками и тарифом одного
// пользователя должны выполняться строго последовательно, при этом разные
// пользователи не должны мешать друг другу.
package userlock

import "sync"

// Registry хранит по одному мьютексу на пользователя.
// Мьютексы создаются лениво и не освобождаются: количество пользователей
// ограничено аудиторией бота, а sync.Mutex занимает считанные байты.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New создает пустой реестр.
func New() *Registry {
	return &Registry{locks: make(map[int64]*sync.Mutex)}
}

// Lock захватывает мьютекс пользователя userID.
func (r *Registry) Lock(userID int64) {
	r.get(userID).Lock()
}

// Unlock освобождает мьютекс пользователя userID.
func (r *Registry) Unlock(userID int64) {
	r.get(userID).Unlock()
}

func (r *Registry) get(userID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[userID] = m
	}
	return m
}
