package seed

import (
	"fmt"
	"log"

	"intouch/internal/models"

	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	Password   string
	SkipBcrypt bool
	DryRun     bool
	MaxDays    int
	RandSeed   int64
}

// Stats counts what a run created.
type Stats struct {
	Users       int
	Friendships int
	Invites     int
	Blocks      int
	Chats       int
	Messages    int
}

func (s Stats) String() string {
	return fmt.Sprintf("users=%d friendships=%d invites=%d blocks=%d chats=%d messages=%d",
		s.Users, s.Friendships, s.Invites, s.Blocks, s.Chats, s.Messages)
}

// Seeder populates the database from presets.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
	presets map[string]Preset
}

// NewSeeder creates a Seeder using the built-in presets.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	presets, err := LoadPresets("")
	if err != nil {
		// presets.yaml is embedded; a parse failure is a build defect.
		panic(err)
	}
	return &Seeder{db: db, factory: NewFactory(db, opts), presets: presets}
}

// WithPresets replaces the available presets.
func (s *Seeder) WithPresets(presets map[string]Preset) *Seeder {
	s.presets = presets
	return s
}

// ClearAll removes every row the seeder can create, children first.
func (s *Seeder) ClearAll() error {
	if s.factory.opts.DryRun {
		log.Println("[dry-run] ClearAll skipped")
		return nil
	}
	tables := []any{
		&models.Message{},
		&models.ChatUser{},
		&models.Chat{},
		&models.Relation{},
		&models.RefreshToken{},
		&models.Avatar{},
		&models.User{},
	}
	for _, t := range tables {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(t).Error; err != nil {
			return fmt.Errorf("clear %T: %w", t, err)
		}
	}
	log.Println("🧹 Database cleared")
	return nil
}

// ApplyPreset runs the named preset.
func (s *Seeder) ApplyPreset(name string) (Stats, error) {
	p, ok := s.presets[name]
	if !ok {
		return Stats{}, fmt.Errorf("unknown preset %q (available: %v)", name, Names(s.presets))
	}
	return s.Run(p)
}

// Run seeds users on a ring. User i is friends with the next FriendsPerUser
// users, has invited the PendingInvites users after those, and the first
// Blocks users block whoever sits opposite them. Pairs never repeat, so every
// pair ends up with at most one relation in each direction.
func (s *Seeder) Run(p Preset) (Stats, error) {
	if err := p.Validate(); err != nil {
		return Stats{}, err
	}
	var stats Stats
	f := s.factory

	users, err := f.CreateUsers(p.Users)
	if err != nil {
		return stats, fmt.Errorf("create users: %w", err)
	}
	stats.Users = len(users)
	n := len(users)
	id := func(i int) string { return users[((i%n)+n)%n].ID }

	taken := make(map[[2]int]bool)
	pair := func(a, b int) [2]int {
		a, b = ((a%n)+n)%n, ((b%n)+n)%n
		if a > b {
			a, b = b, a
		}
		return [2]int{a, b}
	}

	var edges []models.Relation
	var friendPairs [][2]int
	for i := 0; i < n; i++ {
		for k := 1; k <= p.FriendsPerUser; k++ {
			key := pair(i, i+k)
			if taken[key] {
				continue
			}
			taken[key] = true
			edges = append(edges, f.Friendship(id(i), id(i+k))...)
			friendPairs = append(friendPairs, key)
			stats.Friendships++
		}
	}
	for i := 0; i < n; i++ {
		for k := p.FriendsPerUser + 1; k <= p.FriendsPerUser+p.PendingInvites; k++ {
			key := pair(i, i+k)
			if taken[key] {
				continue
			}
			taken[key] = true
			edges = append(edges, f.Edge(id(i), id(i+k), models.RelationInvited))
			stats.Invites++
		}
	}
	for i := 0; i < p.Blocks; i++ {
		key := pair(i, i+n/2)
		if key[0] == key[1] || taken[key] {
			continue
		}
		taken[key] = true
		edges = append(edges, f.Edge(id(i), id(i+n/2), models.RelationBlocked))
		stats.Blocks++
	}
	if err := f.CreateRelations(edges); err != nil {
		return stats, fmt.Errorf("create relations: %w", err)
	}

	var msgs []models.Message
	privates := p.PrivateChats
	if privates > len(friendPairs) {
		privates = len(friendPairs)
	}
	for i := 0; i < privates; i++ {
		fp := friendPairs[i]
		members := []string{users[fp[0]].ID, users[fp[1]].ID}
		chat, err := f.CreateChat(models.ChatPrivate, "", nil, members)
		if err != nil {
			return stats, fmt.Errorf("create private chat: %w", err)
		}
		stats.Chats++
		msgs = append(msgs, f.BuildMessages(chat, members, p.MessagesPerChat)...)
	}

	for g := 0; g < p.GroupChats; g++ {
		creator := g % n
		members := []string{id(creator)}
		// Ring friends of the creator, nearest first on alternating sides.
		for k := 1; len(members) < p.GroupSize; k++ {
			members = append(members, id(creator+k))
			if len(members) < p.GroupSize {
				members = append(members, id(creator-k))
			}
		}
		creatorID := id(creator)
		chat, err := f.CreateChat(models.ChatGroup, f.GroupName(), &creatorID, members)
		if err != nil {
			return stats, fmt.Errorf("create group chat: %w", err)
		}
		stats.Chats++
		msgs = append(msgs, f.BuildMessages(chat, members, p.MessagesPerChat)...)
	}

	if err := f.CreateMessages(msgs); err != nil {
		return stats, fmt.Errorf("create messages: %w", err)
	}
	stats.Messages = len(msgs)

	log.Printf("🌱 Seeded preset %q: %s", p.Name, stats)
	return stats, nil
}
