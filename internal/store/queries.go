package store

// Run queries
const (
	queryInsertRun = `
		INSERT INTO runs (id, started_at, finished_at, total, passed, failed)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryInsertCaseResult = `
		INSERT INTO case_results (run_id, name, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?)`

	queryGetRun = `
		SELECT id, started_at, finished_at
		FROM runs WHERE id = ?`

	queryGetRunResults = `
		SELECT name, status, error, duration_ms
		FROM case_results WHERE run_id = ? ORDER BY name`
)
