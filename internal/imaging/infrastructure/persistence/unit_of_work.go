package persistence

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/filestore"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
)

// UnitOfWork groups the imaging repositories, the outbox and the staged file
// registry around one database session.
//
// Commit finalizes the file registry before the database; Rollback deletes
// staged files before rolling the database back. A database failure after
// the registry commit leaves the new files in place without a row pointing
// at them.
type UnitOfWork struct {
	session *database.Session
	files   *filestore.Registry
	journal *sharedApplication.Journal

	images          *SQLImageRepository
	transformations *SQLTransformationRepository
	outbox          *outbox.SQLRepository
}

// NewUnitOfWork creates a unit of work over conn and fs. No transaction is
// begun until the first statement runs.
func NewUnitOfWork(conn database.Connection, fs filestore.FileSystem, logger *slog.Logger) *UnitOfWork {
	session := database.NewSession(conn)
	journal := sharedApplication.NewJournal()

	return &UnitOfWork{
		session:         session,
		files:           filestore.NewRegistry(fs, logger),
		journal:         journal,
		images:          NewSQLImageRepository(session, conn.Driver(), journal, fs),
		transformations: NewSQLTransformationRepository(session, journal),
		outbox:          outbox.NewSQLRepository(session),
	}
}

// Factory returns a unit of work factory for request scopes.
func Factory(conn database.Connection, fs filestore.FileSystem, logger *slog.Logger) sharedApplication.UnitOfWorkFactory {
	return func(ctx context.Context) (sharedApplication.UnitOfWork, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewUnitOfWork(conn, fs, logger), nil
	}
}

func (u *UnitOfWork) Images() gallery.ImageRepository                   { return u.images }
func (u *UnitOfWork) Transformations() gallery.TransformationRepository { return u.transformations }
func (u *UnitOfWork) Files() gallery.FileRegistry                       { return u.files }
func (u *UnitOfWork) Outbox() outbox.Repository                         { return u.outbox }

// Registry returns the staged file registry.
func (u *UnitOfWork) Registry() *filestore.Registry { return u.files }

// Session returns the database session.
func (u *UnitOfWork) Session() *database.Session { return u.session }

// Emit queues messages that are not attached to an entity.
func (u *UnitOfWork) Emit(msgs ...sharedDomain.Message) {
	u.journal.Emit(msgs...)
}

// CollectNewEvents drains every message produced since the previous call.
func (u *UnitOfWork) CollectNewEvents() iter.Seq[sharedDomain.Message] {
	return u.journal.Drain()
}

// Commit keeps the staged files, then commits the database transaction.
// Calling it again later commits whatever was staged in between.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := u.files.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit files: %w", err)
	}
	if err := u.session.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit database: %w", err)
	}
	return nil
}

// Rollback deletes staged files, then rolls the database back. Both steps
// always run.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	var errs []error
	if err := u.files.Rollback(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to roll back files: %w", err))
	}
	if err := u.session.Rollback(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to roll back database: %w", err))
	}
	return errors.Join(errs...)
}
