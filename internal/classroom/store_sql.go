package classroom

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// isUniqueViolation covers both pgx (SQLSTATE 23505) and sqlite messages.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "constraint failed: unique")
}

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

// ---- users ----

func (s *SQLStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id,role,email,password_hash,name,room_id,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Role, u.Email, u.PasswordHash, u.Name, u.RoomID, u.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateEmail
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

const userCols = `id,role,email,password_hash,name,room_id,created_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.Role, &u.Email, &u.PasswordHash, &u.Name, &u.RoomID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, email))
}

func (s *SQLStore) SetUserRoom(ctx context.Context, userID, roomID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET room_id=$1 WHERE id=$2`, roomID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- rooms ----

func (s *SQLStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE room_id=$1`, roomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) CreateRoom(ctx context.Context, r Room) (Room, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO rooms (room_id,room_name,teacher_id,is_active,created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		r.RoomID, r.RoomName, r.TeacherID, r.IsActive, r.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return Room{}, ErrDuplicateRoomCode
	}
	if err != nil {
		return Room{}, err
	}
	return s.GetRoom(ctx, r.RoomID)
}

func (s *SQLStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id,room_name,teacher_id,is_active,created_at FROM rooms WHERE room_id=$1`, roomID).
		Scan(&r.RoomID, &r.RoomName, &r.TeacherID, &r.IsActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.Students, err = s.roomStudents(ctx, roomID)
	return r, err
}

func (s *SQLStore) roomStudents(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM room_students WHERE room_id=$1 ORDER BY joined_at, student_id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListRoomsByTeacher(ctx context.Context, teacherID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id FROM rooms WHERE teacher_id=$1 ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) AddStudent(ctx context.Context, roomID, studentID string) (Room, error) {
	if ok, err := s.RoomExists(ctx, roomID); err != nil {
		return Room{}, err
	} else if !ok {
		return Room{}, ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO room_students (room_id,student_id,joined_at)
		VALUES ($1,$2,$3) ON CONFLICT (room_id, student_id) DO NOTHING`,
		roomID, studentID, time.Now().UnixNano())
	if err != nil {
		return Room{}, err
	}
	return s.GetRoom(ctx, roomID)
}

func (s *SQLStore) RemoveStudent(ctx context.Context, roomID, studentID string) (Room, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM room_students WHERE room_id=$1 AND student_id=$2`, roomID, studentID); err != nil {
		return Room{}, err
	}
	return s.GetRoom(ctx, roomID)
}

func (s *SQLStore) SetRoomActive(ctx context.Context, roomID string, active bool) (Room, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET is_active=$1 WHERE room_id=$2`, active, roomID)
	if err != nil {
		return Room{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Room{}, ErrNotFound
	}
	return s.GetRoom(ctx, roomID)
}

// ---- papers ----

func (s *SQLStore) PutPaper(ctx context.Context, p Paper) error {
	qj, err := json.Marshal(p.Questions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO papers (id,title,questions_json,total_marks,locked,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, questions_json=EXCLUDED.questions_json,
			total_marks=EXCLUDED.total_marks
		WHERE papers.locked = $7`,
		p.ID, p.Title, string(qj), p.TotalMarks, p.Locked, unixOrNow(p.CreatedAt), false)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaperLocked
	}
	return nil
}

const paperCols = `id,title,questions_json,total_marks,locked,created_at`

func scanPaper(sc interface{ Scan(...any) error }) (Paper, error) {
	var p Paper
	var qjson string
	var created int64
	if err := sc.Scan(&p.ID, &p.Title, &qjson, &p.TotalMarks, &p.Locked, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Paper{}, ErrNotFound
		}
		return Paper{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &p.Questions); err != nil {
		return Paper{}, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	return p, nil
}

func (s *SQLStore) GetPaper(ctx context.Context, id string) (Paper, error) {
	return scanPaper(s.db.QueryRowContext(ctx, `SELECT `+paperCols+` FROM papers WHERE id=$1`, id))
}

func (s *SQLStore) ListPapers(ctx context.Context, limit int) ([]Paper, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+paperCols+` FROM papers ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Paper{}
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) LockPaper(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE papers SET locked=$1 WHERE id=$2`, true, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- assignments ----

func (s *SQLStore) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "active"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var due sql.NullInt64
	if a.DueDate != nil {
		due = sql.NullInt64{Int64: a.DueDate.Unix(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO assignments (id,paper_id,paper_title,teacher_id,room_id,due_date,status,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.PaperID, a.PaperTitle, a.TeacherID, a.RoomID, due, a.Status, a.CreatedAt.Unix()); err != nil {
		return Assignment{}, err
	}
	for _, sid := range a.StudentIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO assignment_students (assignment_id,student_id)
			VALUES ($1,$2) ON CONFLICT (assignment_id, student_id) DO NOTHING`, a.ID, sid); err != nil {
			return Assignment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Assignment{}, err
	}
	return s.GetAssignment(ctx, a.ID)
}

const assignmentCols = `a.id,a.paper_id,a.paper_title,a.teacher_id,a.room_id,a.due_date,a.status,a.created_at`

func scanAssignment(sc interface{ Scan(...any) error }) (Assignment, error) {
	var a Assignment
	var due sql.NullInt64
	var created int64
	if err := sc.Scan(&a.ID, &a.PaperID, &a.PaperTitle, &a.TeacherID, &a.RoomID, &due, &a.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	if due.Valid {
		t := time.Unix(due.Int64, 0).UTC()
		a.DueDate = &t
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

func (s *SQLStore) assignmentStudents(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM assignment_students WHERE assignment_id=$1 ORDER BY student_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments a WHERE a.id=$1`, id))
	if err != nil {
		return Assignment{}, err
	}
	a.StudentIDs, err = s.assignmentStudents(ctx, id)
	return a, err
}

func (s *SQLStore) ListAssignments(ctx context.Context, opts AssignmentListOpts) ([]Assignment, error) {
	q := `SELECT ` + assignmentCols + ` FROM assignments a`
	var args []any
	switch {
	case opts.TeacherID != "":
		q += ` WHERE a.teacher_id=$1`
		args = append(args, opts.TeacherID)
	case opts.StudentID != "":
		q += ` JOIN assignment_students st ON st.assignment_id=a.id WHERE st.student_id=$1`
		args = append(args, opts.StudentID)
	}
	q += ` ORDER BY a.created_at DESC`
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var list []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(list))
	for _, a := range list {
		if a.StudentIDs, err = s.assignmentStudents(ctx, a.ID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLStore) UpsertSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if _, err := s.GetAssignment(ctx, sub.AssignmentID); err != nil {
		return Submission{}, err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	ans, _ := json.Marshal(sub.Answers)
	ev, _ := json.Marshal(sub.Evaluation)
	var evalAt sql.NullInt64
	if sub.TeacherEvaluatedAt != nil {
		evalAt = sql.NullInt64{Int64: sub.TeacherEvaluatedAt.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions
		(assignment_id,student_id,answers_json,evaluation_json,percentage,teacher_feedback,degraded,submitted_at,teacher_evaluated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (assignment_id, student_id) DO UPDATE SET
			answers_json=EXCLUDED.answers_json,
			evaluation_json=EXCLUDED.evaluation_json,
			percentage=EXCLUDED.percentage,
			teacher_feedback=EXCLUDED.teacher_feedback,
			degraded=EXCLUDED.degraded,
			submitted_at=EXCLUDED.submitted_at,
			teacher_evaluated_at=EXCLUDED.teacher_evaluated_at`,
		sub.AssignmentID, sub.StudentID, string(ans), string(ev), sub.Percentage, sub.TeacherFeedback,
		sub.Degraded, sub.SubmittedAt.Unix(), evalAt)
	if err != nil {
		return Submission{}, err
	}
	return s.GetSubmission(ctx, sub.AssignmentID, sub.StudentID)
}

const submissionCols = `assignment_id,student_id,answers_json,evaluation_json,percentage,teacher_feedback,degraded,submitted_at,teacher_evaluated_at`

func scanSubmission(sc interface{ Scan(...any) error }) (Submission, error) {
	var sub Submission
	var ans, ev string
	var submitted int64
	var evalAt sql.NullInt64
	if err := sc.Scan(&sub.AssignmentID, &sub.StudentID, &ans, &ev, &sub.Percentage, &sub.TeacherFeedback,
		&sub.Degraded, &submitted, &evalAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, ErrNotFound
		}
		return Submission{}, err
	}
	if err := json.Unmarshal([]byte(ans), &sub.Answers); err != nil {
		sub.Answers = map[string]interface{}{}
	}
	_ = json.Unmarshal([]byte(ev), &sub.Evaluation)
	sub.SubmittedAt = time.Unix(submitted, 0).UTC()
	if evalAt.Valid {
		t := time.Unix(evalAt.Int64, 0).UTC()
		sub.TeacherEvaluatedAt = &t
	}
	return sub, nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE assignment_id=$1 AND student_id=$2`, assignmentID, studentID))
}

func (s *SQLStore) ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE assignment_id=$1 ORDER BY submitted_at`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ---- progress ----

func (s *SQLStore) AppendProgress(ctx context.Context, r ProgressRecord) (ProgressRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	ev, _ := json.Marshal(r.Evaluation)
	_, err := s.db.ExecContext(ctx, `INSERT INTO progress
		(id,student_id,mock_test_id,assignment_id,paper_id,topic,percentage,evaluation_json,bonus_points,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.StudentID, r.MockTestID, r.AssignmentID, r.PaperID, r.Topic, r.Percentage, string(ev),
		r.BonusPoints, r.Timestamp.UnixNano())
	if err != nil {
		return ProgressRecord{}, err
	}
	return r, nil
}

func (s *SQLStore) ListProgress(ctx context.Context, studentID string) ([]ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,student_id,mock_test_id,assignment_id,paper_id,topic,percentage,evaluation_json,bonus_points,created_at
		FROM progress WHERE student_id=$1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ProgressRecord{}
	for rows.Next() {
		var r ProgressRecord
		var ev string
		var ts int64
		if err := rows.Scan(&r.ID, &r.StudentID, &r.MockTestID, &r.AssignmentID, &r.PaperID, &r.Topic,
			&r.Percentage, &ev, &r.BonusPoints, &ts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(ev), &r.Evaluation)
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
