package db

const (
	jobColumns = `job_id, raw_submitter, owner, claim_state, spooler_state, title, size_kb, submitted_via, original_filename, claimed_at, created_at, last_seen_at, missing_since, terminal`

	GetJobByID = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE job_id = ?
	`

	ListJobsForOwner = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE owner = ? AND terminal = 0 AND claim_state != 'expired'
		ORDER BY created_at DESC
	`

	ListAllActiveJobs = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE terminal = 0 AND claim_state != 'expired'
		ORDER BY created_at DESC
	`

	ListUnclaimedJobs = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE claim_state = 'unclaimed' AND terminal = 0
		ORDER BY created_at DESC
	`

	ListLiveJobs = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE terminal = 0
	`

	InsertJob = `
		INSERT INTO jobs (job_id, raw_submitter, owner, claim_state, spooler_state, title, size_kb, submitted_via, original_filename, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	RefreshJobFromSnapshot = `
		UPDATE jobs SET spooler_state = ?, title = ?, size_kb = ?, last_seen_at = ?, missing_since = NULL
		WHERE job_id = ? AND terminal = 0
	`

	ResolveUnclaimedJob = `
		UPDATE jobs SET owner = ?, claim_state = 'owned', claimed_at = ?
		WHERE job_id = ? AND claim_state = 'unclaimed' AND terminal = 0
	`

	ClaimJob = `
		UPDATE jobs SET owner = ?, claim_state = 'owned', claimed_at = ?
		WHERE job_id = ? AND claim_state = 'unclaimed' AND terminal = 0
	`

	MarkJobMissing = `
		UPDATE jobs SET missing_since = ?
		WHERE job_id = ? AND missing_since IS NULL AND terminal = 0
	`

	MarkJobTerminal = `
		UPDATE jobs SET terminal = 1, spooler_state = ?
		WHERE job_id = ? AND terminal = 0
	`

	ExpireUnclaimedJob = `
		UPDATE jobs SET claim_state = 'expired'
		WHERE job_id = ? AND claim_state = 'unclaimed' AND terminal = 0
	`

	ListStaleUnclaimedJobs = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE claim_state = 'unclaimed' AND terminal = 0 AND created_at < ?
	`

	ListTerminalJobsBefore = `
		SELECT ` + jobColumns + `
		FROM jobs WHERE terminal = 1 AND last_seen_at < ?
	`

	DeleteJob = `DELETE FROM jobs WHERE job_id = ?`
)

const (
	InsertDeviceMapping = `
		INSERT INTO device_mappings (raw_submitter, account, auto_match)
		VALUES (?, ?, ?)
		ON CONFLICT(raw_submitter) DO UPDATE SET account = excluded.account, auto_match = excluded.auto_match
	`

	GetDeviceMapping = `
		SELECT id, raw_submitter, account, auto_match, created_at
		FROM device_mappings WHERE raw_submitter = ? AND auto_match = 1
	`

	ListDeviceMappings = `
		SELECT id, raw_submitter, account, auto_match, created_at
		FROM device_mappings ORDER BY raw_submitter ASC
	`

	DeleteDeviceMapping = `DELETE FROM device_mappings WHERE id = ?`
)

const (
	InsertEmailMapping = `
		INSERT INTO email_mappings (email, account)
		VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET account = excluded.account
	`

	GetEmailMapping = `
		SELECT id, email, account, created_at
		FROM email_mappings WHERE email = ?
	`

	ListEmailMappings = `
		SELECT id, email, account, created_at
		FROM email_mappings ORDER BY email ASC
	`

	DeleteEmailMapping = `DELETE FROM email_mappings WHERE id = ?`
)

const (
	InsertApiKey = `
		INSERT INTO api_keys (key_hash, key_prefix, name, owner, scopes, rate_limit)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetApiKeyByHash = `
		SELECT id, key_hash, key_prefix, name, owner, scopes, rate_limit, created_at, last_used, request_count, revoked
		FROM api_keys WHERE key_hash = ? AND revoked = 0
	`

	ListApiKeys = `
		SELECT id, key_hash, key_prefix, name, owner, scopes, rate_limit, created_at, last_used, request_count, revoked
		FROM api_keys ORDER BY created_at DESC
	`

	TouchApiKey = `
		UPDATE api_keys SET last_used = CURRENT_TIMESTAMP, request_count = request_count + 1 WHERE key_hash = ?
	`

	RevokeApiKey = `UPDATE api_keys SET revoked = 1 WHERE id = ?`
)

const (
	InsertKioskDevice = `
		INSERT INTO kiosk_devices (token_hash, name, bound_ip)
		VALUES (?, ?, ?)
	`

	GetKioskByTokenHash = `
		SELECT id, token_hash, name, bound_ip, revoked, registered_at, last_seen
		FROM kiosk_devices WHERE token_hash = ? AND revoked = 0
	`

	ListKioskDevices = `
		SELECT id, token_hash, name, bound_ip, revoked, registered_at, last_seen
		FROM kiosk_devices ORDER BY registered_at DESC
	`

	TouchKioskDevice = `
		UPDATE kiosk_devices SET last_seen = CURRENT_TIMESTAMP WHERE id = ?
	`

	RevokeKioskDevice = `UPDATE kiosk_devices SET revoked = 1 WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, actor, details_json, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ListAuditLog = `
		SELECT id, action, entity_type, entity_id, actor, details_json, ip_address, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY created_at DESC
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	InsertArchiveJob = `
		INSERT INTO archive_jobs (original_job_id, archive_file)
		VALUES (?, ?)
	`

	ListArchiveJobs = `
		SELECT id, original_job_id, archive_file, archived_at
		FROM archive_jobs ORDER BY archived_at DESC LIMIT ? OFFSET ?
	`
)
