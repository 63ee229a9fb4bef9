package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: tarefas de
// telemetria em background).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// CycleLock é um SlotPool de capacidade 1 compartilhado entre instâncias,
// com expiração. TryAcquire não espera: ok=false quando outra instância já
// detém o lock. err != nil quando o store não respondeu.
type CycleLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// NonBlockingPool é um SlotPool que também aceita tentar sem esperar.
type NonBlockingPool interface {
	SlotPool
	TryAcquire() (release func(), ok bool)
}
