package database

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/lib/errs"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionUsers         = "users"
	collectionSchools       = "schools"
	collectionMembers       = "school_memberships"
	collectionInvitations   = "invitations"
	collectionRelationships = "parent_child_relationships"
	collectionBudgets       = "family_budget_controls"
	collectionRequests      = "purchase_approval_requests"
	collectionTransactions  = "purchase_transactions"
	collectionNotifications = "notifications"
	collectionActivities    = "school_activities"
)

const (
	indexInvitationToken  = "invitation_token"
	indexInvitationActive = "invitation_active_email"
)

type MongoDB struct {
	client   *mongo.Client
	database string
}

func NewMongoClient(ctx context.Context, conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri).SetRegistry(newRegistry())
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	m := &MongoDB{
		client:   client,
		database: conf.Mongo.Database,
	}
	if err = m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collectionUsers: {
			{Keys: bson.D{{"token", 1}}, Options: options.Index().SetUnique(true)},
		},
		collectionInvitations: {
			{Keys: bson.D{{"token", 1}}, Options: options.Index().SetUnique(true).SetName(indexInvitationToken)},
			{
				Keys: bson.D{{"school_id", 1}, {"email", 1}},
				Options: options.Index().SetUnique(true).SetName(indexInvitationActive).
					SetPartialFilterExpression(bson.D{{"active", true}}),
			},
			{Keys: bson.D{{"batch_id", 1}}},
			{Keys: bson.D{{"active", 1}, {"expires_at", 1}}},
		},
		collectionMembers: {
			{Keys: bson.D{{"school_id", 1}, {"email", 1}, {"role", 1}}, Options: options.Index().SetUnique(true)},
		},
		collectionRelationships: {
			{Keys: bson.D{{"parent_id", 1}, {"child_id", 1}, {"school_id", 1}}, Options: options.Index().SetUnique(true)},
		},
		collectionBudgets: {
			{Keys: bson.D{{"relationship_id", 1}}, Options: options.Index().SetUnique(true)},
		},
		collectionRequests: {
			{Keys: bson.D{{"parent_id", 1}, {"status", 1}}},
			{Keys: bson.D{{"status", 1}, {"expires_at", 1}}},
		},
		collectionTransactions: {
			{Keys: bson.D{{"student_id", 1}, {"status", 1}, {"completed_at", 1}}},
		},
		collectionNotifications: {
			{Keys: bson.D{{"user_id", 1}, {"type", 1}, {"created_at", -1}}},
		},
		collectionActivities: {
			{Keys: bson.D{{"school_id", 1}, {"created_at", -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongodb indexes %s: %w", name, err)
		}
	}
	return nil
}

// findOne decodes a single document, translating ErrNoDocuments into a
// not-found domain error.
func (m *MongoDB) findOne(ctx context.Context, collection, what string, filter interface{}, out interface{}) error {
	err := m.collection(collection).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound(what)
	}
	if err != nil {
		return fmt.Errorf("mongodb find %s: %w", what, err)
	}
	return nil
}

// replaceVersioned replaces a document only if its stored version matches,
// bumping the version on success.
func (m *MongoDB) replaceVersioned(ctx context.Context, collection, what, id string, version int64, doc interface{}) error {
	filter := bson.D{{"_id", id}, {"version", version}}
	res, err := m.collection(collection).ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("mongodb replace %s: %w", what, err)
	}
	if res.MatchedCount == 0 {
		count, err := m.collection(collection).CountDocuments(ctx, bson.D{{"_id", id}})
		if err != nil {
			return fmt.Errorf("mongodb count %s: %w", what, err)
		}
		if count == 0 {
			return notFound(what)
		}
		return conflict(what)
	}
	return nil
}

// users

func (m *MongoDB) SaveUser(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	filter := bson.D{{"_id", user.ID}}
	_, err := m.collection(collectionUsers).ReplaceOne(ctx, filter, user, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoDB) GetUser(ctx context.Context, token string) (*entity.User, error) {
	var user entity.User
	if err := m.findOne(ctx, collectionUsers, "user", bson.D{{"token", token}}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (m *MongoDB) GetUserByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	if err := m.findOne(ctx, collectionUsers, "user", bson.D{{"_id", id}}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// schools and memberships

func (m *MongoDB) SaveSchool(ctx context.Context, school *entity.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	filter := bson.D{{"_id", school.ID}}
	_, err := m.collection(collectionSchools).ReplaceOne(ctx, filter, school, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoDB) GetSchool(ctx context.Context, id string) (*entity.School, error) {
	var school entity.School
	if err := m.findOne(ctx, collectionSchools, "school", bson.D{{"_id", id}}, &school); err != nil {
		return nil, err
	}
	return &school, nil
}

func (m *MongoDB) AddSchoolMember(ctx context.Context, member *entity.SchoolMembership) (bool, error) {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	filter := bson.D{{"school_id", member.SchoolID}, {"email", member.Email}, {"role", member.Role}}
	update := bson.D{{"$setOnInsert", member}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored entity.SchoolMembership
	err := m.collection(collectionMembers).FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		return false, fmt.Errorf("mongodb upsert membership: %w", err)
	}
	created := stored.ID == member.ID
	*member = stored
	return created, nil
}

func (m *MongoDB) GetMembership(ctx context.Context, schoolID, userID, email string) ([]*entity.SchoolMembership, error) {
	or := bson.A{}
	if userID != "" {
		or = append(or, bson.D{{"user_id", userID}})
	}
	if email != "" {
		or = append(or, bson.D{{"email", email}})
	}
	if len(or) == 0 {
		return nil, nil
	}
	filter := bson.D{{"school_id", schoolID}, {"$or", or}}
	cursor, err := m.collection(collectionMembers).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var members []*entity.SchoolMembership
	if err = cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// invitations

func (m *MongoDB) SaveInvitation(ctx context.Context, inv *entity.Invitation) error {
	_, err := m.collection(collectionInvitations).InsertOne(ctx, inv)
	switch {
	case duplicateOn(err, indexInvitationToken):
		return errs.Wrap(errs.CodeConflict, "invitation token collision", err)
	case mongo.IsDuplicateKeyError(err):
		return errs.Wrap(errs.CodeDuplicateActiveInvitation, "an active invitation already exists for this email", err)
	}
	return err
}

// duplicateOn reports whether err is a duplicate key violation of the named
// index. The server names the index in the E11000 message.
func duplicateOn(err error, index string) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == 11000 && strings.Contains(e.Message, "index: "+index+" ") {
			return true
		}
	}
	return false
}

func (m *MongoDB) UpdateInvitation(ctx context.Context, inv *entity.Invitation) error {
	expected := inv.Version
	inv.Version++
	err := m.replaceVersioned(ctx, collectionInvitations, "invitation", inv.ID, expected, inv)
	if err != nil {
		inv.Version = expected
	}
	return err
}

func (m *MongoDB) GetInvitation(ctx context.Context, id string) (*entity.Invitation, error) {
	var inv entity.Invitation
	if err := m.findOne(ctx, collectionInvitations, "invitation", bson.D{{"_id", id}}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (m *MongoDB) GetInvitationByToken(ctx context.Context, token string) (*entity.Invitation, error) {
	var inv entity.Invitation
	if err := m.findOne(ctx, collectionInvitations, "invitation", bson.D{{"token", token}}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (m *MongoDB) FindActiveInvitation(ctx context.Context, schoolID, email string) (*entity.Invitation, error) {
	var inv entity.Invitation
	filter := bson.D{{"school_id", schoolID}, {"email", email}, {"active", true}}
	err := m.collection(collectionInvitations).FindOne(ctx, filter).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find invitation: %w", err)
	}
	return &inv, nil
}

func (m *MongoDB) findInvitations(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]*entity.Invitation, error) {
	cursor, err := m.collection(collectionInvitations).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var invitations []*entity.Invitation
	if err = cursor.All(ctx, &invitations); err != nil {
		return nil, err
	}
	return invitations, nil
}

func (m *MongoDB) GetInvitationsByBatch(ctx context.Context, batchID string) ([]*entity.Invitation, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", 1}})
	return m.findInvitations(ctx, bson.D{{"batch_id", batchID}}, opts)
}

func (m *MongoDB) GetStaleInvitations(ctx context.Context, now time.Time) ([]*entity.Invitation, error) {
	filter := bson.D{{"active", true}, {"expires_at", bson.D{{"$lte", now}}}}
	return m.findInvitations(ctx, filter)
}

// relationships and budget controls

func (m *MongoDB) SaveRelationship(ctx context.Context, rel *entity.ParentChildRelationship) error {
	filter := bson.D{{"_id", rel.ID}}
	_, err := m.collection(collectionRelationships).ReplaceOne(ctx, filter, rel, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return errs.Wrap(errs.CodeValidation, "relationship already exists for this parent, child and school", err)
	}
	return err
}

func (m *MongoDB) GetRelationship(ctx context.Context, id string) (*entity.ParentChildRelationship, error) {
	var rel entity.ParentChildRelationship
	if err := m.findOne(ctx, collectionRelationships, "relationship", bson.D{{"_id", id}}, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (m *MongoDB) SaveBudgetControl(ctx context.Context, bc *entity.FamilyBudgetControl) error {
	filter := bson.D{{"relationship_id", bc.RelationshipID}}
	_, err := m.collection(collectionBudgets).ReplaceOne(ctx, filter, bc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoDB) GetBudgetControl(ctx context.Context, relationshipID string) (*entity.FamilyBudgetControl, error) {
	var bc entity.FamilyBudgetControl
	err := m.collection(collectionBudgets).FindOne(ctx, bson.D{{"relationship_id", relationshipID}}).Decode(&bc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find budget control: %w", err)
	}
	return &bc, nil
}

// approval requests

func (m *MongoDB) SaveApprovalRequest(ctx context.Context, req *entity.PurchaseApprovalRequest) error {
	_, err := m.collection(collectionRequests).InsertOne(ctx, req)
	return err
}

func (m *MongoDB) UpdateApprovalRequest(ctx context.Context, req *entity.PurchaseApprovalRequest) error {
	expected := req.Version
	req.Version++
	err := m.replaceVersioned(ctx, collectionRequests, "approval request", req.ID, expected, req)
	if err != nil {
		req.Version = expected
	}
	return err
}

func (m *MongoDB) GetApprovalRequest(ctx context.Context, id string) (*entity.PurchaseApprovalRequest, error) {
	var req entity.PurchaseApprovalRequest
	if err := m.findOne(ctx, collectionRequests, "approval request", bson.D{{"_id", id}}, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (m *MongoDB) findRequests(ctx context.Context, filter interface{}) ([]*entity.PurchaseApprovalRequest, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", 1}})
	cursor, err := m.collection(collectionRequests).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var requests []*entity.PurchaseApprovalRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (m *MongoDB) GetPendingApprovalRequests(ctx context.Context, parentID string) ([]*entity.PurchaseApprovalRequest, error) {
	return m.findRequests(ctx, bson.D{{"parent_id", parentID}, {"status", entity.ApprovalPending}})
}

func (m *MongoDB) GetStaleApprovalRequests(ctx context.Context, now time.Time) ([]*entity.PurchaseApprovalRequest, error) {
	return m.findRequests(ctx, bson.D{{"status", entity.ApprovalPending}, {"expires_at", bson.D{{"$lte", now}}}})
}

// ledger, used when the MySQL ledger is disabled

func (m *MongoDB) CreateTransaction(ctx context.Context, tx *entity.Transaction) error {
	_, err := m.collection(collectionTransactions).InsertOne(ctx, tx)
	return err
}

func (m *MongoDB) GetTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	var tx entity.Transaction
	if err := m.findOne(ctx, collectionTransactions, "transaction", bson.D{{"_id", id}}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (m *MongoDB) SetTransactionSession(ctx context.Context, id, sessionID string) error {
	filter := bson.D{{"_id", id}}
	update := bson.D{{"$set", bson.D{{"stripe_session_id", sessionID}}}}
	_, err := m.collection(collectionTransactions).UpdateOne(ctx, filter, update)
	return err
}

func (m *MongoDB) CompleteTransaction(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.D{{"_id", id}, {"status", bson.D{{"$ne", entity.TransactionCompleted}}}}
	update := bson.D{{"$set", bson.D{
		{"status", entity.TransactionCompleted},
		{"completed_at", at},
	}}}
	res, err := m.collection(collectionTransactions).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (m *MongoDB) CancelTransaction(ctx context.Context, id string) error {
	filter := bson.D{{"_id", id}, {"status", entity.TransactionPending}}
	update := bson.D{{"$set", bson.D{{"status", entity.TransactionCancelled}}}}
	_, err := m.collection(collectionTransactions).UpdateOne(ctx, filter, update)
	return err
}

func (m *MongoDB) SumCompleted(ctx context.Context, studentID string, from, to time.Time) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{"$match", bson.D{
			{"student_id", studentID},
			{"status", entity.TransactionCompleted},
			{"completed_at", bson.D{{"$gte", from}, {"$lt", to}}},
		}}},
		{{"$group", bson.D{
			{"_id", nil},
			{"total", bson.D{{"$sum", "$amount"}}},
		}}},
	}
	cursor, err := m.collection(collectionTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, fmt.Errorf("mongodb sum transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Total decimal.Decimal `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err = cursor.Decode(&result); err != nil {
			return decimal.Zero, err
		}
	}
	return result.Total, cursor.Err()
}

// notifications and activity

func (m *MongoDB) SaveNotification(ctx context.Context, n *entity.Notification) error {
	_, err := m.collection(collectionNotifications).InsertOne(ctx, n)
	return err
}

func (m *MongoDB) LastNotification(ctx context.Context, userID string, t entity.NotificationType) (*entity.Notification, error) {
	var n entity.Notification
	filter := bson.D{{"user_id", userID}, {"type", t}}
	opts := options.FindOne().SetSort(bson.D{{"created_at", -1}})
	err := m.collection(collectionNotifications).FindOne(ctx, filter, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (m *MongoDB) GetNotifications(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", -1}}).SetLimit(int64(limit))
	cursor, err := m.collection(collectionNotifications).Find(ctx, bson.D{{"user_id", userID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*entity.Notification
	if err = cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *MongoDB) SaveActivity(ctx context.Context, a *entity.Activity) error {
	_, err := m.collection(collectionActivities).InsertOne(ctx, a)
	return err
}

func (m *MongoDB) GetActivities(ctx context.Context, schoolID string, limit int) ([]*entity.Activity, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", -1}}).SetLimit(int64(limit))
	cursor, err := m.collection(collectionActivities).Find(ctx, bson.D{{"school_id", schoolID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*entity.Activity
	if err = cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}
