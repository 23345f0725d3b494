package postgres

const queryActiveFeeds = `
SELECT
    f.source_id, f.feed_id,
    s.zone, s.country, s.source_name, s.source_env,
    f.frequency, f.day_of_run,
    f.file_name, f.source_dir, f.staging_dir, f.target_dir,
    s.container, s.host, s.username, s.password, COALESCE(s.options, '{}'),
    f.dest_endpoint, f.dest_access_key, f.dest_secret_key, f.dest_container,
    f.dest_region, f.dest_use_ssl,
    f.staging_table, f.main_table, f.staging_columns, f.main_columns,
    f.raw_prefix, f.main_container, f.main_prefix
FROM feeds f
JOIN sources s ON s.source_id = f.source_id
WHERE f.active = true
  AND lower(s.zone) = lower($1)
  AND lower(s.country) = lower($2)
  AND lower(s.source_env) = lower($3)
ORDER BY f.feed_id
`

const queryProcessID = `
SELECT process_id FROM processes
WHERE lower(program) = lower($1) AND lower(process_name) = lower($2)
`

const queryInsertExecution = `
INSERT INTO feed_executions (source_id, feed_id, process_id, workflow_id, execution_date, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING execution_id
`

const queryCloseExecution = `
UPDATE feed_executions
SET status = $1, post_run_count = $2, eligible_for_next_run = $3, finished_at = $4
WHERE execution_id = $5
  AND status = 'STARTED'
`

const queryExecutionExists = `
SELECT status FROM feed_executions WHERE execution_id = $1
`

const queryLastSuccessDate = `
SELECT MAX(execution_date)
FROM feed_executions
WHERE feed_id = $1
  AND process_id = $2
  AND status = 'SUCCESS'
`

const queryLatestStatus = `
SELECT status
FROM feed_executions
WHERE feed_id = $1
  AND process_id = $2
  AND execution_date = $3
ORDER BY execution_id DESC
LIMIT 1
`

const queryStaleStarted = `
SELECT execution_id, source_id, feed_id, process_id, workflow_id, execution_date,
       status, post_run_count, eligible_for_next_run, started_at, finished_at
FROM feed_executions
WHERE status = 'STARTED'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`

const queryListExecutions = `
SELECT execution_id, source_id, feed_id, process_id, workflow_id, execution_date,
       status, post_run_count, eligible_for_next_run, started_at, finished_at
FROM feed_executions
WHERE feed_id = $1
ORDER BY execution_id DESC
LIMIT $2 OFFSET $3
`
