package peers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DatabaseConfig contains database configuration for creating MongoDB client.
//
// You can use environment variables to fill it:
// PEERS_DB_ADDRESS - MongoDB address
// PEERS_DB_NAME - database name
// PEERS_DB_USERNAME - MongoDB username
// PEERS_DB_PASSWORD - MongoDB password
// PEERS_DB_DISABLED - set to true if you want to keep users and chats in memory
type DatabaseConfig struct {
	// Address is the MongoDB address in ip:port format.
	Address string `yaml:"address" env:"PEERS_DB_ADDRESS"`
	// DBName is the name of the MongoDB database.
	DBName string `yaml:"db_name" env:"PEERS_DB_NAME"`
	// Username is the MongoDB username.
	Username string `yaml:"username" env:"PEERS_DB_USERNAME"`
	// Password is the MongoDB password.
	Password string `yaml:"password" env:"PEERS_DB_PASSWORD"`

	// UsersCollection is the name of the users collection. Default: USERS.
	UsersCollection string `yaml:"users_collection" env:"PEERS_DB_USERS_COLLECTION" env-default:"USERS"`
	// ChatsCollection is the name of the chats collection. Default: CHATS.
	ChatsCollection string `yaml:"chats_collection" env:"PEERS_DB_CHATS_COLLECTION" env-default:"CHATS"`

	// Disabled is a flag that disables the MongoDB client and keeps records in memory.
	Disabled bool `yaml:"disabled" env:"PEERS_DB_DISABLED"`
}

// Validate validates database configuration.
func (cfg DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Address, validation.Required.When(!cfg.Disabled)),
		validation.Field(&cfg.DBName, validation.Required.When(!cfg.Disabled)),
		validation.Field(&cfg.Username, validation.Required.When(len(cfg.Password) > 0 && !cfg.Disabled)),
		validation.Field(&cfg.Password, validation.Required.When(len(cfg.Username) > 0 && !cfg.Disabled)),
	)
}

// MongoDB is a MongoDB client, that creates collections.
type MongoDB struct {
	database *mongo.Database
	client   *mongo.Client
	log      logze.Logger

	colls map[string]*Collection
	mu    sync.RWMutex
}

// NewMongo creates a new MongoDB client. Client will be disconnected on context shutdown.
func NewMongo(ctx contem.Context, cfg DatabaseConfig, l logze.Logger) (*MongoDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("mongodb://%s/%s", cfg.Address, cfg.DBName)
	opts := options.Client().ApplyURI(dsn)
	if len(cfg.Username) > 0 && len(cfg.Password) > 0 {
		opts.SetAuth(options.Credential{
			AuthMechanism: "SCRAM-SHA-256",
			AuthSource:    cfg.DBName,
			Username:      cfg.Username,
			Password:      cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	ctx.Add(client.Disconnect)

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	db := &MongoDB{
		database: client.Database(cfg.DBName),
		client:   client,
		log:      l,
		colls:    make(map[string]*Collection),
	}

	l.Info("connected to mongodb", "address", cfg.Address, "db_name", cfg.DBName)

	return db, nil
}

// GetCollection returns a collection object by name.
// It will create a new collection if it doesn't exist after first query.
func (m *MongoDB) GetCollection(name string) *Collection {
	m.mu.RLock()
	coll, ok := m.colls[name]
	m.mu.RUnlock()

	if ok {
		return coll
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if coll, ok := m.colls[name]; ok {
		return coll
	}

	m.colls[name] = &Collection{
		coll: m.database.Collection(name),
		name: name,
	}

	return m.colls[name]
}

// Collection handles interactions with a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
	name string
}

// CreateIndex creates an index for a collection with the given field names.
func (m *Collection) CreateIndex(ctx context.Context, fieldNames ...string) error {
	return m.createIndex(ctx, fieldNames, false)
}

// CreateUniqueIndex creates a unique index for a collection with the given field names.
func (m *Collection) CreateUniqueIndex(ctx context.Context, fieldNames ...string) error {
	return m.createIndex(ctx, fieldNames, true)
}

// FindOne finds a single document in the collection.
// Use filter to filter the document, e.g. {key: value}
func (m *Collection) FindOne(ctx context.Context, dest any, filter Filter) error {
	result := m.coll.FindOne(ctx, prepareFilter(filter))
	err := result.Err()

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case err != nil:
		return err
	}

	if err := result.Decode(dest); err != nil {
		return errm.Wrap(err, "decode")
	}

	return nil
}

// Upsert applies update to a single document, inserting it if nothing matches the filter.
func (m *Collection) Upsert(ctx context.Context, filter Filter, update bson.M) error {
	_, err := m.coll.UpdateOne(ctx, prepareFilter(filter), update, options.Update().SetUpsert(true))
	switch {
	case isDuplicateErr(err):
		return ErrDuplicate
	case err != nil:
		return err
	}
	return nil
}

// UpdateOne applies update to a single document. It returns [ErrNotFound] if nothing matches the filter.
func (m *Collection) UpdateOne(ctx context.Context, filter Filter, update bson.M) error {
	updateResult, err := m.coll.UpdateOne(ctx, prepareFilter(filter), update)
	switch {
	case isDuplicateErr(err):
		return ErrDuplicate
	case errors.Is(err, mongo.ErrNoDocuments) || (updateResult != nil && updateResult.MatchedCount == 0):
		return ErrNotFound
	case err != nil:
		return err
	}
	return nil
}

// UpdateMany applies update to every document that matches the filter.
// Update can be an update document or an aggregation pipeline.
// It returns number of modified documents.
func (m *Collection) UpdateMany(ctx context.Context, filter Filter, update any) (int64, error) {
	updateResult, err := m.coll.UpdateMany(ctx, prepareFilter(filter), update)
	if err != nil {
		return 0, err
	}
	return updateResult.ModifiedCount, nil
}

// Delete deletes a document in the collection.
func (m *Collection) Delete(ctx context.Context, filter Filter) error {
	_, err := m.coll.DeleteOne(ctx, prepareFilter(filter))
	if err != nil {
		return err
	}
	return nil
}

func (m *Collection) createIndex(ctx context.Context, fieldNames []string, isUnique bool) error {
	indexModel := mongo.IndexModel{
		Options: options.Index().SetUnique(isUnique).SetName(m.name + "_" + strings.Join(fieldNames, "_") + "_index"),
	}

	keys := make(bson.D, 0, len(fieldNames))
	for _, field := range fieldNames {
		keys = append(keys, bson.E{
			Key:   field,
			Value: 1,
		})
	}
	indexModel.Keys = keys

	if _, err := m.coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		return err
	}

	return nil
}

// MongoUsers is a [UsersStorage] on top of MongoDB collection.
type MongoUsers struct {
	coll *Collection
}

// NewMongoUsers returns users storage using the provided collection.
func NewMongoUsers(coll *Collection) *MongoUsers {
	return &MongoUsers{coll: coll}
}

// EnsureIndexes creates indexes for lookup by hash.
func (m *MongoUsers) EnsureIndexes(ctx context.Context) error {
	if err := m.coll.CreateIndex(ctx, UserHashField); err != nil {
		return errm.Wrap(err, "hash index")
	}
	if err := m.coll.CreateIndex(ctx, UserChatsField); err != nil {
		return errm.Wrap(err, "chats index")
	}
	return nil
}

func (m *MongoUsers) FindUser(ctx context.Context, userID int64) (UserRecord, error) {
	var out UserRecord
	if err := m.coll.FindOne(ctx, &out, NewFilter(UserIDField, userID)); err != nil {
		return UserRecord{}, err
	}
	return out, nil
}

func (m *MongoUsers) FindUserByHash(ctx context.Context, hash string) (UserRecord, error) {
	var out UserRecord
	if err := m.coll.FindOne(ctx, &out, NewFilter(UserHashField, hash)); err != nil {
		return UserRecord{}, err
	}
	return out, nil
}

func (m *MongoUsers) UpsertUser(ctx context.Context, upd UserUpsert) error {
	return m.coll.Upsert(ctx, NewFilter(UserIDField, upd.ID), userUpsertUpdate(upd))
}

func (m *MongoUsers) ReplaceChat(ctx context.Context, oldChatID, newChatID int64) error {
	_, err := m.coll.UpdateMany(ctx, NewFilter(UserChatsField, oldChatID), replaceChatPipeline(oldChatID, newChatID))
	return err
}

func (m *MongoUsers) PullChat(ctx context.Context, chatID int64) error {
	_, err := m.coll.UpdateMany(ctx, NewFilter(UserChatsField, chatID), prepareUpdate(pull, NewUpdates(UserChatsField, chatID)))
	return err
}

func (m *MongoUsers) PullUserChat(ctx context.Context, userID, chatID int64) error {
	return ignoreNotFound(m.coll.UpdateOne(ctx, NewFilter(UserIDField, userID), prepareUpdate(pull, NewUpdates(UserChatsField, chatID))))
}

// MongoChats is a [ChatsStorage] on top of MongoDB collection.
type MongoChats struct {
	coll *Collection
}

// NewMongoChats returns chats storage using the provided collection.
func NewMongoChats(coll *Collection) *MongoChats {
	return &MongoChats{coll: coll}
}

// EnsureIndexes creates unique index for chat ID and index for lookup by hash.
func (m *MongoChats) EnsureIndexes(ctx context.Context) error {
	if err := m.coll.CreateUniqueIndex(ctx, ChatIDField); err != nil {
		return errm.Wrap(err, "chat_id index")
	}
	if err := m.coll.CreateIndex(ctx, ChatHashField); err != nil {
		return errm.Wrap(err, "hash index")
	}
	return nil
}

func (m *MongoChats) FindChat(ctx context.Context, chatID int64) (ChatRecord, error) {
	var out ChatRecord
	if err := m.coll.FindOne(ctx, &out, NewFilter(ChatIDField, chatID)); err != nil {
		return ChatRecord{}, err
	}
	return out, nil
}

func (m *MongoChats) FindChatByHash(ctx context.Context, hash string) (ChatRecord, error) {
	var out ChatRecord
	if err := m.coll.FindOne(ctx, &out, NewFilter(ChatHashField, hash)); err != nil {
		return ChatRecord{}, err
	}
	return out, nil
}

func (m *MongoChats) UpsertChat(ctx context.Context, upd ChatUpsert) error {
	return m.coll.Upsert(ctx, NewFilter(ChatIDField, upd.ID), chatUpsertUpdate(upd))
}

func (m *MongoChats) MigrateChat(ctx context.Context, oldChatID, newChatID int64) error {
	return ignoreNotFound(m.coll.UpdateOne(ctx, NewFilter(ChatIDField, oldChatID), prepareUpdate(set, NewUpdates(ChatIDField, newChatID))))
}

func (m *MongoChats) DeleteChat(ctx context.Context, chatID int64) error {
	return m.coll.Delete(ctx, NewFilter(ChatIDField, chatID))
}

func (m *MongoChats) PullMember(ctx context.Context, chatID, userID int64) error {
	return ignoreNotFound(m.coll.UpdateOne(ctx, NewFilter(ChatIDField, chatID), prepareUpdate(pull, NewUpdates(ChatMembersField, userID))))
}

func userUpsertUpdate(upd UserUpsert) bson.M {
	setFields := bson.D{{Key: UserUsernameField, Value: upd.Username}}
	if upd.Hash != "" {
		setFields = append(setFields, bson.E{Key: UserHashField, Value: upd.Hash})
	}

	out := bson.M{set.String(): setFields}
	if upd.InitReputation {
		out[setOnInsert.String()] = bson.D{{Key: UserReputationField, Value: 0}}
	}
	if upd.ChatID != 0 {
		out[addToSet.String()] = bson.D{{Key: UserChatsField, Value: upd.ChatID}}
	}

	return out
}

func chatUpsertUpdate(upd ChatUpsert) bson.M {
	setFields := bson.D{
		{Key: ChatNameField, Value: upd.Name},
		{Key: ChatTypeField, Value: upd.Type},
	}
	if upd.Hash != "" {
		setFields = append(setFields, bson.E{Key: ChatHashField, Value: upd.Hash})
	}

	out := bson.M{set.String(): setFields}
	if upd.MemberID != 0 {
		out[addToSet.String()] = bson.D{{Key: ChatMembersField, Value: upd.MemberID}}
	}

	return out
}

// replaceChatPipeline removes old chat and adds new one in a single document write,
// so result doesn't depend on the order of concurrent updates.
func replaceChatPipeline(oldChatID, newChatID int64) mongo.Pipeline {
	chats := "$" + UserChatsField
	return mongo.Pipeline{
		{{Key: set.String(), Value: bson.D{{Key: UserChatsField, Value: bson.D{{
			Key: "$setUnion", Value: bson.A{
				bson.D{{Key: "$setDifference", Value: bson.A{chats, bson.A{oldChatID}}}},
				bson.A{newChatID},
			},
		}}}}}},
	}
}

// Filter is a map containing query operators to filter documents.
type Filter map[string]any

// NewFilter creates a new Filter based on pairs.
// Pairs must be in the form NewFilter(key1, value1, key2, value2, ...)
func NewFilter(pairs ...any) Filter {
	return newMap(pairs...)
}

// Updates is a map containing fields to update.
type Updates map[string]any

// NewUpdates creates a new Updates based on pairs.
// Pairs must be in the form NewUpdates(key1, value1, key2, value2, ...)
func NewUpdates(pairs ...any) Updates {
	return newMap(pairs...)
}

func newMap(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	add(out, pairs...)
	return out
}

func add(m map[string]any, pairs ...any) {
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if ok && i+1 < len(pairs) {
			m[key] = pairs[i+1]
		}
	}
}

type operationDB string

const (
	set         operationDB = "$set"
	setOnInsert operationDB = "$setOnInsert"
	addToSet    operationDB = "$addToSet"
	pull        operationDB = "$pull"
)

func (a operationDB) String() string {
	return string(a)
}

func prepareFilter(inputFilter Filter) bson.M {
	filter := make(bson.M, len(inputFilter))
	for k, v := range inputFilter {
		filter[k] = v
	}
	return filter
}

func prepareUpdate(operation operationDB, update Updates) bson.M {
	upd := bson.D{}
	for k, v := range update {
		upd = append(upd, bson.E{Key: k, Value: v})
	}

	return bson.M{operation.String(): upd}
}

func isDuplicateErr(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}

func ignoreNotFound(err error) error {
	if errm.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
