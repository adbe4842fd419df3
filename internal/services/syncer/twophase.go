package syncer

import (
	"context"

	"github.com/pkg/errors"
)

// twophaseDo — единственное место, где живёт порядок "сначала внешняя
// система, потом локальная запись". commit не вызывается, пока push не
// подтверждён; упавший push оставляет локальное состояние нетронутым,
// и источник вебхука доставит событие повторно.
//
// Обратная дыра (push прошёл, commit упал) закрывается идемпотентностью
// события платформы: повторная доставка отправит его ещё раз с тем же
// результатом.
func twophaseDo(ctx context.Context, push, commit func(ctx context.Context) error) error {
	if err := push(ctx); err != nil {
		return errors.Wrap(err, "push")
	}
	if err := commit(ctx); err != nil {
		return errors.Wrap(err, "commit after push")
	}
	return nil
}
