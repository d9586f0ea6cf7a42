package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ports.Queries over a pool or a transaction.
type queries struct {
	db      dbtx
	dialect dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.db.ExecContext(ctx, rebind(q.dialect, query), args...)
	return res, mapErr(err)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, rebind(q.dialect, query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, rebind(q.dialect, query), args...)
}

func now() time.Time { return time.Now().UTC() }

// --- Owners ---

const ownerColumns = `id, email, first_name, last_name, password_hash, anonymous, created_at`

func scanOwner(row interface{ Scan(...any) error }) (*domain.Owner, error) {
	var o domain.Owner
	var created timestamp
	if err := row.Scan(&o.ID, &o.Email, &o.FirstName, &o.LastName, &o.PasswordHash, &o.Anonymous, &created); err != nil {
		return nil, err
	}
	o.CreatedAt = created.Time
	return &o, nil
}

func (q *queries) CreateOwner(ctx context.Context, owner *domain.Owner) error {
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = now()
	}
	err := q.queryRow(ctx, `INSERT INTO owners (email, first_name, last_name, password_hash, anonymous, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		owner.Email, owner.FirstName, owner.LastName, owner.PasswordHash, owner.Anonymous, owner.CreatedAt,
	).Scan(&owner.ID)
	if err != nil {
		return fmt.Errorf("create owner: %w", mapErr(err))
	}
	return nil
}

func (q *queries) EnsureAnonymousOwner(ctx context.Context) (*domain.Owner, error) {
	_, err := q.exec(ctx, `INSERT INTO owners (email, first_name, last_name, password_hash, anonymous, created_at)
		VALUES (?, 'Anonymous', '', '', TRUE, ?) ON CONFLICT (email) DO NOTHING`,
		domain.AnonymousEmail, now())
	if err != nil {
		return nil, fmt.Errorf("ensure anonymous owner: %w", err)
	}
	owner, err := q.GetOwnerByEmail(ctx, domain.AnonymousEmail)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, errors.New("anonymous owner missing after insert")
	}
	return owner, nil
}

func (q *queries) GetOwnerByID(ctx context.Context, id int64) (*domain.Owner, error) {
	owner, err := scanOwner(q.queryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owner %d: %w", id, err)
	}
	return owner, nil
}

func (q *queries) GetOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error) {
	owner, err := scanOwner(q.queryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owner by email: %w", err)
	}
	return owner, nil
}

func (q *queries) CountOwnerMappings(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM short_mappings WHERE owner_id = ? AND deleted = FALSE`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owner mappings: %w", err)
	}
	return n, nil
}

// --- Long targets ---

func (q *queries) GetTargetByURL(ctx context.Context, url string) (*domain.LongTarget, error) {
	var t domain.LongTarget
	var created timestamp
	err := q.queryRow(ctx, `SELECT id, url, created_at FROM long_targets WHERE url = ?`, url).Scan(&t.ID, &t.URL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	t.CreatedAt = created.Time
	return &t, nil
}

func (q *queries) EnsureTarget(ctx context.Context, url string) (*domain.LongTarget, error) {
	if _, err := q.exec(ctx, `INSERT INTO long_targets (url, created_at) VALUES (?, ?) ON CONFLICT (url) DO NOTHING`, url, now()); err != nil {
		return nil, fmt.Errorf("ensure target: %w", err)
	}
	t, err := q.GetTargetByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("target missing after insert")
	}
	return t, nil
}

// DeleteTargetIfOrphaned removes the target when no live mapping points at it.
// Deleted mappings still pointing at it are detached first.
func (q *queries) DeleteTargetIfOrphaned(ctx context.Context, targetID int64) (bool, error) {
	if targetID == 0 {
		return false, nil
	}
	_, err := q.exec(ctx, `UPDATE short_mappings SET target_id = NULL
		WHERE target_id = ? AND deleted = TRUE
		AND NOT EXISTS (SELECT 1 FROM short_mappings live WHERE live.target_id = ? AND live.deleted = FALSE)`,
		targetID, targetID)
	if err != nil {
		return false, fmt.Errorf("detach deleted mappings: %w", err)
	}
	res, err := q.exec(ctx, `DELETE FROM long_targets
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM short_mappings WHERE target_id = ?)`,
		targetID, targetID)
	if err != nil {
		return false, fmt.Errorf("delete orphaned target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Short mappings ---

const mappingSelect = `SELECT m.id, m.code, COALESCE(m.target_id, 0), COALESCE(t.url, ''), m.owner_id, m.active, m.deleted, m.created_at
	FROM short_mappings m
	LEFT JOIN long_targets t ON t.id = m.target_id`

func scanMapping(row interface{ Scan(...any) error }, extra ...any) (*domain.ShortMapping, error) {
	var m domain.ShortMapping
	var created timestamp
	dest := append([]any{&m.ID, &m.Code, &m.TargetID, &m.LongURL, &m.OwnerID, &m.Active, &m.Deleted, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.CreatedAt = created.Time
	return &m, nil
}

func (q *queries) getMapping(ctx context.Context, where string, args ...any) (*domain.ShortMapping, error) {
	m, err := scanMapping(q.queryRow(ctx, mappingSelect+` WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (q *queries) listMappings(ctx context.Context, query string, args ...any) ([]domain.ShortMapping, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.ShortMapping
	for rows.Next() {
		var visits int64
		m, err := scanMapping(rows, &visits)
		if err != nil {
			return nil, err
		}
		m.Visits = visits
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q *queries) CreateMapping(ctx context.Context, m *domain.ShortMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	err := q.queryRow(ctx, `INSERT INTO short_mappings (code, target_id, owner_id, active, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		m.Code, nullID(m.TargetID), m.OwnerID, m.Active, m.Deleted, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("create mapping: %w", mapErr(err))
	}
	return nil
}

func (q *queries) CodeTaken(ctx context.Context, code string) (bool, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM short_mappings WHERE code = ? AND deleted = FALSE`, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return n > 0, nil
}

// GetMappingByCode prefers the live row and otherwise returns the most
// recently deleted one.
func (q *queries) GetMappingByCode(ctx context.Context, code string) (*domain.ShortMapping, error) {
	return q.getMapping(ctx, `m.code = ? ORDER BY m.deleted ASC, m.id DESC LIMIT 1`, code)
}

func (q *queries) GetMapping(ctx context.Context, id int64) (*domain.ShortMapping, error) {
	return q.getMapping(ctx, `m.id = ? AND m.deleted = FALSE`, id)
}

func (q *queries) GetOwnedMapping(ctx context.Context, id, ownerID int64) (*domain.ShortMapping, error) {
	return q.getMapping(ctx, `m.id = ? AND m.owner_id = ? AND m.deleted = FALSE`, id, ownerID)
}

func (q *queries) FindOwnedMappingByURL(ctx context.Context, ownerID int64, url string) (*domain.ShortMapping, error) {
	return q.getMapping(ctx, `m.owner_id = ? AND t.url = ? AND m.deleted = FALSE`, ownerID, url)
}

func (q *queries) SetMappingTarget(ctx context.Context, id, targetID int64) error {
	if _, err := q.exec(ctx, `UPDATE short_mappings SET target_id = ? WHERE id = ?`, targetID, id); err != nil {
		return fmt.Errorf("retarget mapping %d: %w", id, err)
	}
	return nil
}

func (q *queries) SetMappingActive(ctx context.Context, id int64, active bool) error {
	if _, err := q.exec(ctx, `UPDATE short_mappings SET active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("toggle mapping %d: %w", id, err)
	}
	return nil
}

func (q *queries) SoftDeleteMapping(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, `UPDATE short_mappings SET deleted = TRUE WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete mapping %d: %w", id, err)
	}
	return nil
}

// --- Visit ledger ---

const visitorColumns = `vi.id, v.mapping_id, vi.ip, vi.browser, vi.platform, vi.user_agent, vi.referer, vi.created_at`

func scanVisitor(row interface{ Scan(...any) error }) (*domain.Visitor, error) {
	var vi domain.Visitor
	var created timestamp
	if err := row.Scan(&vi.ID, &vi.MappingID, &vi.IP, &vi.Browser, &vi.Platform, &vi.UserAgent, &vi.Referer, &created); err != nil {
		return nil, err
	}
	vi.CreatedAt = created.Time
	return &vi, nil
}

// RecordVisit inserts the visitor row and links it to its mapping. Callers
// run it inside InTx.
func (q *queries) RecordVisit(ctx context.Context, visitor *domain.Visitor) error {
	if visitor.CreatedAt.IsZero() {
		visitor.CreatedAt = now()
	}
	err := q.queryRow(ctx, `INSERT INTO visitors (ip, browser, platform, user_agent, referer, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		visitor.IP, visitor.Browser, visitor.Platform, visitor.UserAgent, visitor.Referer, visitor.CreatedAt,
	).Scan(&visitor.ID)
	if err != nil {
		return fmt.Errorf("insert visitor: %w", err)
	}
	if _, err := q.exec(ctx, `INSERT INTO visits (visitor_id, mapping_id) VALUES (?, ?)`, visitor.ID, visitor.MappingID); err != nil {
		return fmt.Errorf("link visit: %w", err)
	}
	return nil
}

func (q *queries) CountVisits(ctx context.Context, mappingID int64) (int64, error) {
	var n int64
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM visits WHERE mapping_id = ?`, mappingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

func (q *queries) ListVisitors(ctx context.Context, mappingID int64) ([]domain.Visitor, error) {
	rows, err := q.query(ctx, `SELECT `+visitorColumns+`
		FROM visits v JOIN visitors vi ON vi.id = v.visitor_id
		WHERE v.mapping_id = ? ORDER BY vi.id`, mappingID)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	defer rows.Close()

	var out []domain.Visitor
	for rows.Next() {
		vi, err := scanVisitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *vi)
	}
	return out, rows.Err()
}

func (q *queries) GetVisitor(ctx context.Context, mappingID, visitorID int64) (*domain.Visitor, error) {
	vi, err := scanVisitor(q.queryRow(ctx, `SELECT `+visitorColumns+`
		FROM visits v JOIN visitors vi ON vi.id = v.visitor_id
		WHERE v.mapping_id = ? AND vi.id = ?`, mappingID, visitorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	return vi, nil
}

// --- Rankings ---

func (q *queries) RecentMappings(ctx context.Context, limit int) ([]domain.ShortMapping, error) {
	return q.listMappings(ctx, `SELECT m.id, m.code, COALESCE(m.target_id, 0), COALESCE(t.url, ''), m.owner_id, m.active, m.deleted, m.created_at,
		(SELECT COUNT(*) FROM visits v WHERE v.mapping_id = m.id)
		FROM short_mappings m
		LEFT JOIN long_targets t ON t.id = m.target_id
		WHERE m.deleted = FALSE
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, limit)
}

// PopularMappings orders by visit count; the outer join keeps unvisited
// mappings, which sort last.
func (q *queries) PopularMappings(ctx context.Context, limit int) ([]domain.ShortMapping, error) {
	return q.listMappings(ctx, `SELECT m.id, m.code, COALESCE(m.target_id, 0), COALESCE(t.url, ''), m.owner_id, m.active, m.deleted, m.created_at,
		COUNT(v.visitor_id) AS visit_count
		FROM short_mappings m
		LEFT JOIN long_targets t ON t.id = m.target_id
		LEFT JOIN visits v ON v.mapping_id = m.id
		WHERE m.deleted = FALSE
		GROUP BY m.id, m.code, m.target_id, t.url, m.owner_id, m.active, m.deleted, m.created_at
		ORDER BY visit_count DESC, m.id ASC
		LIMIT ?`, limit)
}

func (q *queries) ListOwnerMappings(ctx context.Context, ownerID int64) ([]domain.ShortMapping, error) {
	return q.listMappings(ctx, `SELECT m.id, m.code, COALESCE(m.target_id, 0), COALESCE(t.url, ''), m.owner_id, m.active, m.deleted, m.created_at,
		(SELECT COUNT(*) FROM visits v WHERE v.mapping_id = m.id)
		FROM short_mappings m
		LEFT JOIN long_targets t ON t.id = m.target_id
		WHERE m.owner_id = ? AND m.deleted = FALSE
		ORDER BY m.created_at DESC, m.id DESC`, ownerID)
}

func (q *queries) InfluentialOwners(ctx context.Context) ([]domain.OwnerRank, error) {
	rows, err := q.query(ctx, `SELECT o.id, o.email, o.first_name, o.last_name, o.password_hash, o.anonymous, o.created_at,
		COUNT(v.visitor_id) AS visit_count
		FROM owners o
		JOIN short_mappings m ON m.owner_id = o.id AND m.deleted = FALSE
		LEFT JOIN visits v ON v.mapping_id = m.id
		WHERE o.anonymous = FALSE
		GROUP BY o.id, o.email, o.first_name, o.last_name, o.password_hash, o.anonymous, o.created_at
		ORDER BY visit_count DESC, o.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("influential owners: %w", err)
	}
	defer rows.Close()

	var out []domain.OwnerRank
	for rows.Next() {
		var r domain.OwnerRank
		var created timestamp
		if err := rows.Scan(&r.ID, &r.Email, &r.FirstName, &r.LastName, &r.PasswordHash, &r.Anonymous, &created, &r.Visits); err != nil {
			return nil, err
		}
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Export / import ---

func (q *queries) Dump(ctx context.Context) ([]domain.ExportedMapping, error) {
	rows, err := q.query(ctx, `SELECT m.code, COALESCE(t.url, ''), o.email, m.active, m.deleted, m.created_at
		FROM short_mappings m
		JOIN owners o ON o.id = m.owner_id
		LEFT JOIN long_targets t ON t.id = m.target_id
		ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	defer rows.Close()

	var out []domain.ExportedMapping
	for rows.Next() {
		var e domain.ExportedMapping
		var created timestamp
		if err := rows.Scan(&e.Code, &e.LongURL, &e.OwnerEmail, &e.Active, &e.Deleted, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// ImportMapping recreates an exported mapping, creating its owner and target
// when missing. A live mapping that would collide with an existing one is
// skipped and reported as false.
func (q *queries) ImportMapping(ctx context.Context, e domain.ExportedMapping) (bool, error) {
	_, err := q.exec(ctx, `INSERT INTO owners (email, first_name, last_name, password_hash, anonymous, created_at)
		VALUES (?, '', '', '', ?, ?) ON CONFLICT (email) DO NOTHING`,
		e.OwnerEmail, e.OwnerEmail == domain.AnonymousEmail, now())
	if err != nil {
		return false, fmt.Errorf("import owner: %w", err)
	}
	owner, err := q.GetOwnerByEmail(ctx, e.OwnerEmail)
	if err != nil {
		return false, err
	}
	if owner == nil {
		return false, errors.New("owner missing after insert")
	}

	if !e.Deleted {
		taken, err := q.CodeTaken(ctx, e.Code)
		if err != nil {
			return false, err
		}
		if taken {
			return false, nil
		}
		if e.LongURL != "" {
			existing, err := q.FindOwnedMappingByURL(ctx, owner.ID, e.LongURL)
			if err != nil {
				return false, err
			}
			if existing != nil {
				return false, nil
			}
		}
	}

	// Deleted rows never keep a target alive, so they only attach to one that
	// already exists.
	var targetID int64
	switch {
	case e.LongURL == "":
	case e.Deleted:
		t, err := q.GetTargetByURL(ctx, e.LongURL)
		if err != nil {
			return false, err
		}
		if t != nil {
			targetID = t.ID
		}
	default:
		t, err := q.EnsureTarget(ctx, e.LongURL)
		if err != nil {
			return false, err
		}
		targetID = t.ID
	}

	m := &domain.ShortMapping{
		Code:      e.Code,
		TargetID:  targetID,
		OwnerID:   owner.ID,
		Active:    e.Active,
		Deleted:   e.Deleted,
		CreatedAt: e.CreatedAt,
	}
	if err := q.CreateMapping(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

var _ ports.Queries = (*queries)(nil)
