package postgres

const querySchema = `
CREATE TABLE IF NOT EXISTS generation_runs (
    id            UUID PRIMARY KEY,
    school_id     BIGINT      NOT NULL,
    outcome       TEXT        NOT NULL,
    reason        TEXT        NOT NULL DEFAULT '',
    class_count   INTEGER     NOT NULL DEFAULT 0,
    refresh_error TEXT        NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_runs_school_started_idx
    ON generation_runs (school_id, started_at DESC);
`

const queryInsertRun = `
INSERT INTO generation_runs (id, school_id, outcome, reason, class_count, refresh_error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING
`

const queryListRuns = `
SELECT id, school_id, outcome, reason, class_count, refresh_error, started_at, finished_at
FROM generation_runs
WHERE school_id = $1
ORDER BY started_at DESC, id
LIMIT $2 OFFSET $3
`

const queryLatestRun = `
SELECT id, school_id, outcome, reason, class_count, refresh_error, started_at, finished_at
FROM generation_runs
WHERE school_id = $1
ORDER BY started_at DESC
LIMIT 1
`
