package cli

import "errors"

// Ошибки команд выравнивания.
var (
	// ErrRunFailed — run завершился не успешно.
	ErrRunFailed = errors.New("alignment run did not succeed")

	// ErrNothingToRestart — в job store нет run'а для --restart.
	ErrNothingToRestart = errors.New("job store has no run to restart")

	// ErrNoRuns — у job store нет файла состояния или runs в нём.
	ErrNoRuns = errors.New("job store has no runs")

	// ErrStateFileRequired — для job store в S3 нужен локальный файл состояния.
	ErrStateFileRequired = errors.New("--stateFile is required for s3 job stores")

	// ErrRootMismatch — --restart с другим корнем события.
	ErrRootMismatch = errors.New("restart root does not match the stored run")
)
