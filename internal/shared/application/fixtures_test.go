package application

import (
	"context"
	"iter"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

type startCommand struct {
	domain.BaseCommand
	Name string `json:"name"`
}

func (startCommand) MessageType() string { return "start-command" }

type followUpCommand struct {
	domain.BaseCommand
	Name string `json:"name"`
}

func (followUpCommand) MessageType() string { return "follow-up-command" }

type somethingHappened struct {
	domain.BaseEvent
	Name string `json:"name"`
}

func (somethingHappened) MessageType() string { return "something-happened" }

type otherHappened struct {
	domain.BaseEvent
	Name string `json:"name"`
}

func (otherHappened) MessageType() string { return "other-happened" }

func happened(name string) somethingHappened {
	return somethingHappened{BaseEvent: domain.NewBaseEvent("test", name), Name: name}
}

func other(name string) otherHappened {
	return otherHappened{BaseEvent: domain.NewBaseEvent("test", name), Name: name}
}

// fakeUnitOfWork is a journal-backed unit of work without storage.
type fakeUnitOfWork struct {
	journal   *Journal
	commits   int
	rollbacks int
}

func newFakeUnitOfWork() *fakeUnitOfWork {
	return &fakeUnitOfWork{journal: NewJournal()}
}

func (u *fakeUnitOfWork) Commit(context.Context) error {
	u.commits++
	return nil
}

func (u *fakeUnitOfWork) Rollback(context.Context) error {
	u.rollbacks++
	return nil
}

func (u *fakeUnitOfWork) CollectNewEvents() iter.Seq[domain.Message] {
	return u.journal.Drain()
}

func (u *fakeUnitOfWork) Emit(msgs ...domain.Message) {
	u.journal.Emit(msgs...)
}

func scopeWith(uow *fakeUnitOfWork) *Scope {
	return NewScope(func(context.Context) (UnitOfWork, error) { return uow, nil })
}

func emit(ctx context.Context, step *Step, msgs ...domain.Message) error {
	uow, err := UnitOfWorkAs[*fakeUnitOfWork](ctx, step)
	if err != nil {
		return err
	}
	uow.Emit(msgs...)
	return nil
}
