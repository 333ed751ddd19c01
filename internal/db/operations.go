package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// ScanJob reads one jobs row. Shared by the ledger and the operations here
// so the column list in queries.go has a single consumer shape.
func ScanJob(s scanner) (*Job, error) {
	j := &Job{}
	var owner, originalFilename sql.NullString
	var claimedAt, missingSince sql.NullTime
	if err := s.Scan(
		&j.JobID, &j.RawSubmitter, &owner, &j.ClaimState, &j.SpoolerState,
		&j.Title, &j.SizeKB, &j.SubmittedVia, &originalFilename,
		&claimedAt, &j.CreatedAt, &j.LastSeenAt, &missingSince, &j.Terminal,
	); err != nil {
		return nil, err
	}
	if owner.Valid {
		j.Owner = &owner.String
	}
	if originalFilename.Valid {
		j.OriginalFilename = &originalFilename.String
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if missingSince.Valid {
		j.MissingSince = &missingSince.Time
	}
	return j, nil
}

func ScanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := ScanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type DeviceMappingOperations struct{}

func (o *DeviceMappingOperations) Upsert(ctx context.Context, rawSubmitter, account string, autoMatch bool) error {
	_, err := GetDB().ExecContext(ctx, InsertDeviceMapping, rawSubmitter, account, autoMatch)
	if err != nil {
		return fmt.Errorf("failed to upsert device mapping: %w", err)
	}
	return nil
}

func (o *DeviceMappingOperations) Lookup(ctx context.Context, rawSubmitter string) (string, error) {
	m := &DeviceMapping{}
	err := GetDB().QueryRowContext(ctx, GetDeviceMapping, rawSubmitter).Scan(
		&m.ID, &m.RawSubmitter, &m.Account, &m.AutoMatch, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("failed to get device mapping: %w", err)
	}
	return m.Account, nil
}

// Snapshot returns all auto-match mappings keyed by raw submitter, the form
// the identity resolver consumes.
func (o *DeviceMappingOperations) Snapshot(ctx context.Context) (map[string]string, error) {
	mappings, err := o.List(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.AutoMatch {
			snapshot[m.RawSubmitter] = m.Account
		}
	}
	return snapshot, nil
}

func (o *DeviceMappingOperations) List(ctx context.Context) ([]*DeviceMapping, error) {
	rows, err := GetDB().QueryContext(ctx, ListDeviceMappings)
	if err != nil {
		return nil, fmt.Errorf("failed to list device mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*DeviceMapping
	for rows.Next() {
		m := &DeviceMapping{}
		if err := rows.Scan(&m.ID, &m.RawSubmitter, &m.Account, &m.AutoMatch, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (o *DeviceMappingOperations) Delete(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteDeviceMapping, id)
	if err != nil {
		return fmt.Errorf("failed to delete device mapping: %w", err)
	}
	return nil
}

type EmailMappingOperations struct{}

func (o *EmailMappingOperations) Upsert(ctx context.Context, email, account string) error {
	_, err := GetDB().ExecContext(ctx, InsertEmailMapping, strings.ToLower(email), account)
	if err != nil {
		return fmt.Errorf("failed to upsert email mapping: %w", err)
	}
	return nil
}

func (o *EmailMappingOperations) Lookup(ctx context.Context, email string) (string, error) {
	m := &EmailMapping{}
	err := GetDB().QueryRowContext(ctx, GetEmailMapping, strings.ToLower(email)).Scan(
		&m.ID, &m.Email, &m.Account, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("failed to get email mapping: %w", err)
	}
	return m.Account, nil
}

func (o *EmailMappingOperations) List(ctx context.Context) ([]*EmailMapping, error) {
	rows, err := GetDB().QueryContext(ctx, ListEmailMappings)
	if err != nil {
		return nil, fmt.Errorf("failed to list email mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*EmailMapping
	for rows.Next() {
		m := &EmailMapping{}
		if err := rows.Scan(&m.ID, &m.Email, &m.Account, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan email mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (o *EmailMappingOperations) Delete(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteEmailMapping, id)
	if err != nil {
		return fmt.Errorf("failed to delete email mapping: %w", err)
	}
	return nil
}

type ApiKeyOperations struct{}

func (o *ApiKeyOperations) Create(ctx context.Context, k *ApiKey) error {
	result, err := GetDB().ExecContext(ctx, InsertApiKey,
		k.KeyHash, k.KeyPrefix, k.Name, k.Owner, k.ScopesJSON, k.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get api key id: %w", err)
	}
	k.ID = id
	return nil
}

// GetActiveByHash returns sql.ErrNoRows for unknown and revoked hashes
// alike; callers cannot distinguish the two, which is intentional.
func (o *ApiKeyOperations) GetActiveByHash(ctx context.Context, keyHash string) (*ApiKey, error) {
	k := &ApiKey{}
	var lastUsed sql.NullTime
	err := GetDB().QueryRowContext(ctx, GetApiKeyByHash, keyHash).Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Owner, &k.ScopesJSON,
		&k.RateLimit, &k.CreatedAt, &lastUsed, &k.RequestCount, &k.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	return k, nil
}

func (o *ApiKeyOperations) Touch(ctx context.Context, keyHash string) error {
	_, err := GetDB().ExecContext(ctx, TouchApiKey, keyHash)
	return err
}

func (o *ApiKeyOperations) List(ctx context.Context) ([]*ApiKey, error) {
	rows, err := GetDB().QueryContext(ctx, ListApiKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*ApiKey
	for rows.Next() {
		k := &ApiKey{}
		var lastUsed sql.NullTime
		if err := rows.Scan(
			&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Owner, &k.ScopesJSON,
			&k.RateLimit, &k.CreatedAt, &lastUsed, &k.RequestCount, &k.Revoked); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		if lastUsed.Valid {
			k.LastUsed = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (o *ApiKeyOperations) Revoke(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, RevokeApiKey, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

type KioskOperations struct{}

func (o *KioskOperations) Create(ctx context.Context, d *KioskDevice) error {
	var boundIP interface{}
	if d.BoundIP != nil && *d.BoundIP != "" {
		boundIP = *d.BoundIP
	}
	result, err := GetDB().ExecContext(ctx, InsertKioskDevice, d.TokenHash, d.Name, boundIP)
	if err != nil {
		return fmt.Errorf("failed to create kiosk device: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get kiosk device id: %w", err)
	}
	d.ID = id
	return nil
}

func (o *KioskOperations) GetActiveByTokenHash(ctx context.Context, tokenHash string) (*KioskDevice, error) {
	d := &KioskDevice{}
	var boundIP sql.NullString
	var lastSeen sql.NullTime
	err := GetDB().QueryRowContext(ctx, GetKioskByTokenHash, tokenHash).Scan(
		&d.ID, &d.TokenHash, &d.Name, &boundIP, &d.Revoked, &d.RegisteredAt, &lastSeen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get kiosk device: %w", err)
	}
	if boundIP.Valid {
		d.BoundIP = &boundIP.String
	}
	if lastSeen.Valid {
		d.LastSeen = &lastSeen.Time
	}
	return d, nil
}

func (o *KioskOperations) Touch(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, TouchKioskDevice, id)
	return err
}

func (o *KioskOperations) List(ctx context.Context) ([]*KioskDevice, error) {
	rows, err := GetDB().QueryContext(ctx, ListKioskDevices)
	if err != nil {
		return nil, fmt.Errorf("failed to list kiosk devices: %w", err)
	}
	defer rows.Close()

	var devices []*KioskDevice
	for rows.Next() {
		d := &KioskDevice{}
		var boundIP sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.ID, &d.TokenHash, &d.Name, &boundIP, &d.Revoked, &d.RegisteredAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan kiosk device: %w", err)
		}
		if boundIP.Valid {
			d.BoundIP = &boundIP.String
		}
		if lastSeen.Valid {
			d.LastSeen = &lastSeen.Time
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (o *KioskOperations) Revoke(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, RevokeKioskDevice, id)
	if err != nil {
		return fmt.Errorf("failed to revoke kiosk device: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type AuditOperations struct{}

func (o *AuditOperations) Record(ctx context.Context, log *AuditLog) error {
	result, err := GetDB().ExecContext(ctx, InsertAuditLog,
		log.Action, log.EntityType, log.EntityID, log.Actor, log.DetailsJSON, log.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log id: %w", err)
	}
	log.ID = id
	return nil
}

func (o *AuditOperations) List(ctx context.Context, limit, offset int) ([]*AuditLog, error) {
	rows, err := GetDB().QueryContext(ctx, ListAuditLog, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log := &AuditLog{}
		if err := rows.Scan(
			&log.ID, &log.Action, &log.EntityType, &log.EntityID,
			&log.Actor, &log.DetailsJSON, &log.IPAddress, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type WebhookOperations struct{}

func (o *WebhookOperations) Create(ctx context.Context, w *Webhook) error {
	result, err := GetDB().ExecContext(ctx, InsertWebhook, w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) List(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (o *WebhookOperations) Delete(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type ArchiveOperations struct{}

func (o *ArchiveOperations) Create(ctx context.Context, a *ArchiveJob) error {
	result, err := GetDB().ExecContext(ctx, InsertArchiveJob, a.OriginalJobID, a.ArchiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get archive job id: %w", err)
	}
	a.ID = id
	return nil
}

func (o *ArchiveOperations) List(ctx context.Context, limit, offset int) ([]*ArchiveJob, error) {
	rows, err := GetDB().QueryContext(ctx, ListArchiveJobs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive jobs: %w", err)
	}
	defer rows.Close()

	var archives []*ArchiveJob
	for rows.Next() {
		a := &ArchiveJob{}
		if err := rows.Scan(&a.ID, &a.OriginalJobID, &a.ArchiveFile, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive job: %w", err)
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

var (
	Mappings = &DeviceMappingOperations{}
	Emails   = &EmailMappingOperations{}
	Keys     = &ApiKeyOperations{}
	Kiosks   = &KioskOperations{}
	Settings = &SettingsOperations{}
	Audit    = &AuditOperations{}
	Webhooks = &WebhookOperations{}
	Archive  = &ArchiveOperations{}
)
