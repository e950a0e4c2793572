package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// maxStoredErrorLen bounds last_error so a dumped response body cannot bloat
// the row.
const maxStoredErrorLen = 1000

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Token material (access/refresh tokens, OAuth client pair) is encrypted
// with AES-256-GCM before write and decrypted after read.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable token-material access (operations touching
// secret fields return driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

const credentialColumns = `id, user_id, mode, kind, email, tier, account_class,
	is_public, is_active, access_token, refresh_token, client_id, client_secret,
	tenant_id, token_expiry, last_used_flash, last_used_pro, last_used_premium,
	cooldowns, total_requests, failed_requests, last_error, created_at, updated_at`

// Create inserts a new credential and returns its id. Used by the diagnostic
// tooling and tests; production credentials arrive through the out-of-scope
// upload flow writing the same columns.
func (r *CredentialRepo) Create(ctx context.Context, c *model.Credential) (int64, error) {
	accessToken, err := r.encrypt(c.AccessToken)
	if err != nil {
		return 0, err
	}
	refreshToken, err := r.encrypt(c.RefreshToken)
	if err != nil {
		return 0, err
	}
	clientID, err := r.encrypt(c.ClientID)
	if err != nil {
		return 0, err
	}
	clientSecret, err := r.encrypt(c.ClientSecret)
	if err != nil {
		return 0, err
	}

	cooldowns, err := marshalCooldowns(c.Cooldowns)
	if err != nil {
		return 0, err
	}

	const query = `INSERT INTO credentials
		(user_id, mode, kind, email, tier, account_class, is_public, is_active,
		 access_token, refresh_token, client_id, client_secret, tenant_id,
		 token_expiry, last_used_flash, last_used_pro, last_used_premium,
		 cooldowns, total_requests, failed_requests, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.Writer.ExecContext(ctx, query,
		nullableID(c.UserID), string(c.Mode), string(c.Kind), c.Email,
		string(c.Tier), string(c.AccountClass), boolInt(c.IsPublic), boolInt(c.IsActive),
		accessToken, refreshToken, clientID, clientSecret, c.TenantID,
		nullableTime(c.TokenExpiry), nullableTime(c.LastUsedFlash),
		nullableTime(c.LastUsedPro), nullableTime(c.LastUsedPremium),
		cooldowns, c.TotalRequests, c.FailedRequests, c.LastError,
	)
	if err != nil {
		return 0, fmt.Errorf("insert credential: %w", err)
	}
	return res.LastInsertId()
}

// GetByID returns the credential or (nil, nil) when it does not exist.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`
	row := r.db.Reader.QueryRowContext(ctx, query, id)

	cred, err := r.scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}
	return cred, nil
}

// ListCandidates returns active, tenant-bearing credentials matching the
// query, ordered by the group-specific last-used column ascending with nulls
// first. Cooldown partitioning happens in the selection engine; the SQL layer
// only guarantees filtering and fairness order.
func (r *CredentialRepo) ListCandidates(ctx context.Context, q driven.CandidateQuery) ([]model.Credential, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + credentialColumns + ` FROM credentials
		WHERE mode = ? AND is_active = 1 AND tenant_id != ''`)
	args := []any{string(q.Mode)}

	if !q.SkipTierFilter && q.RequiredTier == model.Tier3 {
		sb.WriteString(` AND tier = ?`)
		args = append(args, string(model.Tier3))
	}

	switch {
	case q.IncludeShared && q.OwnerID != nil:
		sb.WriteString(` AND (is_public = 1 OR user_id = ?)`)
		args = append(args, *q.OwnerID)
	case q.IncludeShared:
		sb.WriteString(` AND is_public = 1`)
	case q.OwnerID != nil:
		sb.WriteString(` AND user_id = ?`)
		args = append(args, *q.OwnerID)
	default:
		// Private pool with no owner: nothing can match.
		return []model.Credential{}, nil
	}

	if len(q.ExcludeIDs) > 0 {
		sb.WriteString(` AND id NOT IN (?` + strings.Repeat(",?", len(q.ExcludeIDs)-1) + `)`)
		for _, id := range q.ExcludeIDs {
			args = append(args, id)
		}
	}

	sb.WriteString(` ORDER BY ` + groupColumn(q.Group) + ` ASC NULLS FIRST, id ASC`)

	return r.queryCredentials(ctx, sb.String(), args...)
}

// HasActiveCredential reports whether the user owns an active credential of
// the mode matching the tier (any tier when empty) and, when publicOnly is
// set, flagged public.
func (r *CredentialRepo) HasActiveCredential(ctx context.Context, userID int64, mode model.ProviderMode, tier model.Tier, publicOnly bool) (bool, error) {
	query := `SELECT 1 FROM credentials WHERE user_id = ? AND mode = ? AND is_active = 1`
	args := []any{userID, string(mode)}
	if tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(tier))
	}
	if publicOnly {
		query += ` AND is_public = 1`
	}
	query += ` LIMIT 1`

	var one int
	err := r.db.Reader.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check active credential for user %d: %w", userID, err)
	}
	return true, nil
}

// TouchUsage stamps the group-specific last-used timestamp and increments the
// total counter in one immediate transaction, keeping the window in which a
// concurrent selection could pick the same least-used credential short.
func (r *CredentialRepo) TouchUsage(ctx context.Context, id int64, group model.FeatureGroup, now time.Time) error {
	query := fmt.Sprintf(`UPDATE credentials
		SET %s = ?, total_requests = total_requests + 1, updated_at = ?
		WHERE id = ?`, groupColumn(group))
	_, err := r.db.Writer.ExecContext(ctx, query, formatTime(now), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("touch usage for credential %d: %w", id, err)
	}
	return nil
}

// SaveToken persists a refreshed access token and its expiry.
func (r *CredentialRepo) SaveToken(ctx context.Context, id int64, accessToken string, expiry *time.Time) error {
	encrypted, err := r.encrypt(accessToken)
	if err != nil {
		return err
	}
	const query = `UPDATE credentials SET access_token = ?, token_expiry = ?, updated_at = ? WHERE id = ?`
	_, err = r.db.Writer.ExecContext(ctx, query, encrypted, nullableTime(expiry), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save token for credential %d: %w", id, err)
	}
	return nil
}

// SaveTenantID persists a provisioned tenant id.
func (r *CredentialRepo) SaveTenantID(ctx context.Context, id int64, tenantID string) error {
	const query = `UPDATE credentials SET tenant_id = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, tenantID, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save tenant id for credential %d: %w", id, err)
	}
	return nil
}

// SetCooldown records an upstream-imposed cooldown deadline for the group.
// The row's cooldown map is re-read and rewritten inside one transaction;
// already-expired entries are pruned while the row is held anyway.
func (r *CredentialRepo) SetCooldown(ctx context.Context, id int64, group model.FeatureGroup, until time.Time) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cooldown tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT cooldowns FROM credentials WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set cooldown: credential %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("read cooldowns for credential %d: %w", id, err)
	}

	cooldowns, err := unmarshalCooldowns(raw)
	if err != nil {
		// A corrupt map must not make the credential permanently
		// uncoolable; start over.
		cooldowns = model.CooldownMap{}
	}
	cooldowns.Prune(time.Now())
	cooldowns[group] = until.UTC()

	encoded, err := marshalCooldowns(cooldowns)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE credentials SET cooldowns = ?, updated_at = ? WHERE id = ?`,
		encoded, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("write cooldowns for credential %d: %w", id, err)
	}

	return tx.Commit()
}

// RecordFailure increments the failure counter and stores the error text,
// truncated and coerced to valid UTF-8.
func (r *CredentialRepo) RecordFailure(ctx context.Context, id int64, errText string) error {
	safe := strings.ToValidUTF8(errText, "�")
	if len(safe) > maxStoredErrorLen {
		safe = safe[:maxStoredErrorLen]
	}
	const query = `UPDATE credentials
		SET failed_requests = failed_requests + 1, last_error = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, safe, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("record failure for credential %d: %w", id, err)
	}
	return nil
}

// Disable sets is_active to false. The scheduler only ever transitions a
// credential to inactive; re-activation is an explicit administrative action.
func (r *CredentialRepo) Disable(ctx context.Context, id int64) error {
	const query = `UPDATE credentials SET is_active = 0, updated_at = ? WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("disable credential %d: %w", id, err)
	}
	return nil
}

// ListActive returns every active credential of the mode, newest first.
func (r *CredentialRepo) ListActive(ctx context.Context, mode model.ProviderMode) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE mode = ? AND is_active = 1 ORDER BY id ASC`
	return r.queryCredentials(ctx, query, string(mode))
}

// queryCredentials runs a SELECT over credentialColumns and scans all rows.
func (r *CredentialRepo) queryCredentials(ctx context.Context, query string, args ...any) ([]model.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	if creds == nil {
		creds = []model.Credential{}
	}
	return creds, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func (r *CredentialRepo) scanCredential(s scanner) (*model.Credential, error) {
	var c model.Credential
	var userID sql.NullInt64
	var mode, kind, tier, class string
	var isPublic, isActive int
	var accessToken, refreshToken, clientID, clientSecret string
	var tokenExpiry, usedFlash, usedPro, usedPremium sql.NullString
	var cooldowns string
	var createdAt, updatedAt string

	err := s.Scan(
		&c.ID, &userID, &mode, &kind, &c.Email, &tier, &class,
		&isPublic, &isActive, &accessToken, &refreshToken, &clientID, &clientSecret,
		&c.TenantID, &tokenExpiry, &usedFlash, &usedPro, &usedPremium,
		&cooldowns, &c.TotalRequests, &c.FailedRequests, &c.LastError,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		c.UserID = &userID.Int64
	}
	c.Mode = model.ProviderMode(mode)
	c.Kind = model.CredentialKind(kind)
	c.Tier = model.Tier(tier)
	c.AccountClass = model.AccountClass(class)
	c.IsPublic = isPublic != 0
	c.IsActive = isActive != 0

	if c.AccessToken, err = r.decrypt(accessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.decrypt(refreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	if c.ClientID, err = r.decrypt(clientID); err != nil {
		return nil, fmt.Errorf("decrypt client id: %w", err)
	}
	if c.ClientSecret, err = r.decrypt(clientSecret); err != nil {
		return nil, fmt.Errorf("decrypt client secret: %w", err)
	}

	if c.TokenExpiry, err = scanNullableTime(tokenExpiry); err != nil {
		return nil, fmt.Errorf("parse token_expiry: %w", err)
	}
	if c.LastUsedFlash, err = scanNullableTime(usedFlash); err != nil {
		return nil, fmt.Errorf("parse last_used_flash: %w", err)
	}
	if c.LastUsedPro, err = scanNullableTime(usedPro); err != nil {
		return nil, fmt.Errorf("parse last_used_pro: %w", err)
	}
	if c.LastUsedPremium, err = scanNullableTime(usedPremium); err != nil {
		return nil, fmt.Errorf("parse last_used_premium: %w", err)
	}

	if c.Cooldowns, err = unmarshalCooldowns(cooldowns); err != nil {
		return nil, fmt.Errorf("parse cooldowns: %w", err)
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}

// groupColumn maps a feature group to its last-used column. The group set is
// closed, so this can never inject.
func groupColumn(group model.FeatureGroup) string {
	switch group {
	case model.GroupPro:
		return "last_used_pro"
	case model.GroupPremium:
		return "last_used_premium"
	default:
		return "last_used_flash"
	}
}

// marshalCooldowns serializes a cooldown map as a JSON object of
// group -> RFC3339 timestamp.
func marshalCooldowns(m model.CooldownMap) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	out := make(map[string]string, len(m))
	for group, until := range m {
		out[string(group)] = until.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal cooldowns: %w", err)
	}
	return string(data), nil
}

func unmarshalCooldowns(raw string) (model.CooldownMap, error) {
	if raw == "" || raw == "{}" {
		return model.CooldownMap{}, nil
	}
	var in map[string]string
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("unmarshal cooldowns: %w", err)
	}
	out := make(model.CooldownMap, len(in))
	for group, stamp := range in {
		t, err := parseTime(stamp)
		if err != nil {
			return nil, fmt.Errorf("cooldown timestamp for group %q: %w", group, err)
		}
		out[model.FeatureGroup(group)] = t
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext. Empty
// plaintext stays empty so unset fields remain recognizable in SQL.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
