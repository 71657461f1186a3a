// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"intouch/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "Password-123!"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db     *gorm.DB
	opts   Options
	faker  *gofakeit.Faker
	hashed string
	seq    int
}

// NewFactory creates a Factory bound to db. A nil db is only valid with
// DryRun.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	return &Factory{db: db, opts: opts, faker: gofakeit.New(seed)}
}

func (f *Factory) passwordHash() string {
	if f.opts.SkipBcrypt {
		return f.opts.Password
	}
	if f.hashed == "" {
		// One hash for the whole run; bcrypt per user dominates seeding time.
		h, _ := bcrypt.GenerateFromPassword([]byte(f.opts.Password), bcrypt.DefaultCost)
		f.hashed = string(h)
	}
	return f.hashed
}

// past returns a random instant within the last MaxDays.
func (f *Factory) past() time.Time {
	now := time.Now().UTC()
	return f.faker.DateRange(now.AddDate(0, 0, -f.opts.MaxDays), now).UTC()
}

// BuildUser returns a confirmed user with a unique address, not persisted.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	f.seq++
	first, last := f.faker.FirstName(), f.faker.LastName()
	sex := models.SexMale
	if f.faker.Bool() {
		sex = models.SexFemale
	}
	user := &models.User{
		ID:               uuid.NewString(),
		Email:            fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), f.seq),
		FirstName:        first,
		LastName:         last,
		Password:         f.passwordHash(),
		Sex:              sex,
		Age:              f.faker.Number(16, 80),
		EmailConfirmed:   true,
		RegistrationDate: f.past(),
	}
	for _, override := range overrides {
		override(user)
	}
	return user
}

// CreateUsers builds and persists n users.
func (f *Factory) CreateUsers(n int, overrides ...func(*models.User)) ([]*models.User, error) {
	users := make([]*models.User, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, f.BuildUser(overrides...))
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateUsers: %d users (no DB write)", n)
		return users, nil
	}
	if err := f.db.CreateInBatches(users, 200).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateRelations persists directed edges.
func (f *Factory) CreateRelations(rows []models.Relation) error {
	if len(rows) == 0 {
		return nil
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateRelations: %d edges (no DB write)", len(rows))
		return nil
	}
	return f.db.CreateInBatches(rows, 500).Error
}

// Friendship returns the two FRIEND edges between a and b.
func (f *Factory) Friendship(a, b string) []models.Relation {
	at := f.past()
	return []models.Relation{
		{RequestedByUser: a, RequestedToUser: b, Type: models.RelationFriend, RequestedAt: at},
		{RequestedByUser: b, RequestedToUser: a, Type: models.RelationFriend, RequestedAt: at},
	}
}

// Edge returns a single directed edge, used for invitations and blocks.
func (f *Factory) Edge(from, to string, t models.RelationType) models.Relation {
	return models.Relation{RequestedByUser: from, RequestedToUser: to, Type: t, RequestedAt: f.past()}
}

// CreateChat persists a chat with its members in one transaction. memberIDs
// must include the creator of a group.
func (f *Factory) CreateChat(chatType models.ChatType, name string, creatorID *string, memberIDs []string) (*models.Chat, error) {
	chat := &models.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      chatType,
		CreatorID: creatorID,
		CreatedAt: f.past(),
	}
	if f.opts.DryRun {
		return chat, nil
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		rows := make([]models.ChatUser, len(memberIDs))
		for i, id := range memberIDs {
			rows[i] = models.ChatUser{ChatID: chat.ID, UserID: id, JoinedAt: chat.CreatedAt}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// BuildMessages returns count text messages in chat from random senders,
// sent in ascending order after the chat was created.
func (f *Factory) BuildMessages(chat *models.Chat, senders []string, count int) []models.Message {
	if count == 0 || len(senders) == 0 {
		return nil
	}
	now := time.Now().UTC()
	times := make([]time.Time, count)
	for i := range times {
		times[i] = f.faker.DateRange(chat.CreatedAt, now).UTC()
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	msgs := make([]models.Message, count)
	for i := range msgs {
		sender := senders[f.faker.Number(0, len(senders)-1)]
		msgs[i] = models.Message{
			ChatID:   chat.ID,
			SenderID: &sender,
			Content:  f.faker.Sentence(f.faker.Number(3, 16)),
			Type:     models.MessageText,
			SentAt:   times[i],
		}
	}
	return msgs
}

// CreateMessages persists messages in batches.
func (f *Factory) CreateMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateMessages: %d messages (no DB write)", len(msgs))
		return nil
	}
	return f.db.CreateInBatches(msgs, 500).Error
}

// GroupName returns a plausible group chat name.
func (f *Factory) GroupName() string {
	name := strings.TrimSpace(f.faker.HipsterWord() + " " + f.faker.Noun())
	if len(name) > models.MaxChatNameLength {
		name = name[:models.MaxChatNameLength]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
