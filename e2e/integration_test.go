//go:build e2e

// Package e2e runs the linker, accounts and cascade handler against DynamoDB
// Local started in a container.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chandank04/your-places-backend/bootstrap"
	"github.com/chandank04/your-places-backend/internal/config"
	"github.com/chandank04/your-places-backend/internal/dynamorepo"
	"github.com/chandank04/your-places-backend/places"
	"github.com/chandank04/your-places-backend/store"
	"github.com/chandank04/your-places-backend/stream"
)

const (
	dynamoImage = "amazon/dynamodb-local:latest"
	dynamoPort  = "8000/tcp"
	tablePrefix = "places-e2e"
)

var (
	cfg       *config.Config
	ddbClient *dynamodb.Client
	rt        *bootstrap.Runtime
	repo      *dynamorepo.Repo
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if exec.Command("docker", "info").Run() != nil {
		fmt.Println("Skipping e2e: Docker not available")
		return 0
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        dynamoImage,
			ExposedPorts: []string{dynamoPort},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort(dynamoPort).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Printf("Failed to start DynamoDB Local: %v\n", err)
		return 1
	}
	defer container.Terminate(ctx) //nolint:errcheck

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		return 1
	}
	port, err := container.MappedPort(ctx, dynamoPort)
	if err != nil {
		fmt.Printf("Failed to get mapped port: %v\n", err)
		return 1
	}

	testID := uuid.NewString()[:8]
	cfg = config.Default()
	cfg.DynamoDB.Region = "us-east-1"
	cfg.DynamoDB.Endpoint = fmt.Sprintf("http://%s:%s", host, port.Port())
	cfg.DynamoDB.UsersTable = fmt.Sprintf("%s-%s-users", tablePrefix, testID)
	cfg.DynamoDB.PlacesTable = fmt.Sprintf("%s-%s-places", tablePrefix, testID)
	cfg.DynamoDB.UniqueTable = fmt.Sprintf("%s-%s-unique", tablePrefix, testID)
	cfg.Linker.BcryptCost = 4

	ddbClient, err = store.NewClient(ctx, store.ClientConfig{
		Region:   cfg.DynamoDB.Region,
		Endpoint: cfg.DynamoDB.Endpoint,
	})
	if err != nil {
		fmt.Printf("Failed to build client: %v\n", err)
		return 1
	}

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		return 1
	}

	rt, err = bootstrap.Open(ctx, cfg, zerolog.Nop())
	if err != nil {
		fmt.Printf("Failed to open runtime: %v\n", err)
		return 1
	}
	defer rt.Close() //nolint:errcheck
	repo = rt.Repository.(*dynamorepo.Repo)

	return m.Run()
}

func createTables(ctx context.Context) error {
	hashOnly := func(name string) *dynamodb.CreateTableInput {
		return &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
	}

	users := hashOnly(cfg.DynamoDB.UsersTable)

	placesTable := hashOnly(cfg.DynamoDB.PlacesTable)
	placesTable.AttributeDefinitions = append(placesTable.AttributeDefinitions, types.AttributeDefinition{
		AttributeName: aws.String("creator_id"), AttributeType: types.ScalarAttributeTypeS,
	})
	placesTable.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{{
		IndexName: aws.String(cfg.DynamoDB.CreatorIndex),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("creator_id"), KeyType: types.KeyTypeHash},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}}

	unique := &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.DynamoDB.UniqueTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	for _, in := range []*dynamodb.CreateTableInput{users, placesTable, unique} {
		if _, err := ddbClient.CreateTable(ctx, in); err != nil {
			return fmt.Errorf("create table %s: %w", aws.ToString(in.TableName), err)
		}
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", aws.ToString(in.TableName), err)
		}
	}
	return nil
}

// --- helpers ---

func register(t *testing.T, name string) *places.User {
	t.Helper()
	u, err := rt.Accounts.Register(context.Background(), places.NewUser{
		Name:     name,
		Email:    name + "-" + uuid.NewString()[:8] + "@example.com",
		Password: "secret-" + name,
		Image:    "uploads/images/" + name + ".png",
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return u
}

func create(t *testing.T, title, creatorID string) *places.Place {
	t.Helper()
	p, err := rt.Linker.CreateLinked(context.Background(), places.NewPlace{
		Title:    title,
		Address:  "1 Main St",
		Location: places.Location{Lat: 40.7484, Lng: -73.9857},
		Image:    "uploads/images/" + title + ".jpg",
	}, creatorID)
	if err != nil {
		t.Fatalf("CreateLinked(%s) error = %v", title, err)
	}
	return p
}

func assertLinked(t *testing.T, userID string, want ...string) {
	t.Helper()
	ctx := context.Background()

	u, err := repo.User(ctx, userID)
	if err != nil {
		t.Fatalf("User(%s) error = %v", userID, err)
	}
	owned, err := repo.PlacesByCreator(ctx, userID)
	if err != nil {
		t.Fatalf("PlacesByCreator(%s) error = %v", userID, err)
	}
	ids := make([]string, 0, len(owned))
	for _, p := range owned {
		ids = append(ids, p.ID)
	}

	want = sorted(want)
	if fmt.Sprint(sorted(u.Places)) != fmt.Sprint(want) {
		t.Errorf("user %s places = %v, want %v", userID, u.Places, want)
	}
	if fmt.Sprint(sorted(ids)) != fmt.Sprint(want) {
		t.Errorf("places created by %s = %v, want %v", userID, ids, want)
	}
}

func sorted(s []string) []string {
	out := append([]string{}, s...)
	sort.Strings(out)
	return out
}

// --- Linker ---

func TestCreateLinked_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")

	p := create(t, "Cafe", u.ID)

	got, err := rt.Linker.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.CreatorID != u.ID || got.Location != p.Location {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) || !got.UpdatedAt.Equal(p.UpdatedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.UpdatedAt, p.CreatedAt, p.UpdatedAt)
	}
	assertLinked(t, u.ID, p.ID)
}

func TestCreateLinked_UnknownCreator(t *testing.T) {
	_, err := rt.Linker.CreateLinked(context.Background(), places.NewPlace{Title: "x"}, uuid.NewString())
	if !errors.Is(err, places.ErrCreatorNotFound) {
		t.Fatalf("CreateLinked() error = %v, want ErrCreatorNotFound", err)
	}
}

func TestDeleteLinked_Cafe(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")
	cafe := create(t, "Cafe", u.ID)
	park := create(t, "Park", u.ID)

	if err := rt.Linker.DeleteLinked(ctx, cafe.ID, u.ID); err != nil {
		t.Fatalf("DeleteLinked() error = %v", err)
	}
	if _, err := rt.Linker.GetByID(ctx, cafe.ID); !errors.Is(err, places.ErrPlaceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrPlaceNotFound", err)
	}
	assertLinked(t, u.ID, park.ID)

	if err := rt.Linker.DeleteLinked(ctx, cafe.ID, u.ID); !errors.Is(err, places.ErrPlaceNotFound) {
		t.Errorf("second DeleteLinked() error = %v, want ErrPlaceNotFound", err)
	}
	assertLinked(t, u.ID, park.ID)
}

func TestDeleteLinked_NotOwner(t *testing.T) {
	ctx := context.Background()
	owner := register(t, "ann")
	other := register(t, "bob")
	p := create(t, "Cafe", owner.ID)

	if err := rt.Linker.DeleteLinked(ctx, p.ID, other.ID); !errors.Is(err, places.ErrNotOwner) {
		t.Fatalf("DeleteLinked() error = %v, want ErrNotOwner", err)
	}
	if _, err := rt.Linker.UpdateOwned(ctx, p.ID, other.ID, places.PlaceUpdate{Title: aws.String("x")}); !errors.Is(err, places.ErrNotOwner) {
		t.Fatalf("UpdateOwned() error = %v, want ErrNotOwner", err)
	}
	assertLinked(t, owner.ID, p.ID)
	assertLinked(t, other.ID)
}

func TestUpdateOwned(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")
	p := create(t, "Cafe", u.ID)

	updated, err := rt.Linker.UpdateOwned(ctx, p.ID, u.ID, places.PlaceUpdate{
		Title:       aws.String("Bistro"),
		Description: aws.String("Open late"),
	})
	if err != nil {
		t.Fatalf("UpdateOwned() error = %v", err)
	}

	got, err := rt.Linker.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Bistro" || got.Description != "Open late" || got.CreatorID != u.ID {
		t.Errorf("stored = %+v", got)
	}
	if got.Version != updated.Version {
		t.Errorf("Version = %d, want %d", got.Version, updated.Version)
	}
	if !got.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, updated.UpdatedAt)
	}
}

func TestUpdateOwned_CreatorRemoved(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")
	p := create(t, "Cafe", u.ID)

	if err := rt.Accounts.Remove(ctx, u.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	// The stream cascade is not attached here, so the place is still live.
	if _, err := rt.Linker.UpdateOwned(ctx, p.ID, u.ID, places.PlaceUpdate{Title: aws.String("x")}); !errors.Is(err, places.ErrPlaceNotFound) {
		t.Fatalf("UpdateOwned() error = %v, want ErrPlaceNotFound", err)
	}
	got, err := rt.Linker.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Cafe" {
		t.Errorf("Title = %q, want Cafe", got.Title)
	}
}

func TestAtomically_StaleUserRollsBackInsert(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")
	stale, err := repo.User(ctx, u.ID)
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	create(t, "Cafe", u.ID)

	orphan := &places.Place{ID: uuid.NewString(), Title: "Orphan", CreatorID: u.ID, CreatedAt: time.Now()}
	err = repo.Atomically(ctx, func(tx places.Tx) error {
		if err := tx.InsertPlace(orphan); err != nil {
			return err
		}
		stale.Places = append(stale.Places, orphan.ID)
		return tx.SaveUser(stale)
	})
	if !errors.Is(err, places.ErrVersionConflict) {
		t.Fatalf("Atomically() error = %v, want ErrVersionConflict", err)
	}
	if _, err := repo.Place(ctx, orphan.ID); !errors.Is(err, places.ErrRecordNotFound) {
		t.Errorf("orphan place visible after rollback: %v", err)
	}
}

func TestGetAllByCreator_Empty(t *testing.T) {
	list, err := rt.Linker.GetAllByCreator(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("GetAllByCreator() error = %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("GetAllByCreator() = %#v, want empty", list)
	}
}

// --- Accounts ---

func TestRegister_EmailTaken(t *testing.T) {
	ctx := context.Background()
	email := "dup-" + uuid.NewString()[:8] + "@example.com"
	in := places.NewUser{Name: "Ann", Email: email, Password: "hunter22", Image: "a.png"}

	if _, err := rt.Accounts.Register(ctx, in); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	in.Email = "  " + email + "  "
	if _, err := rt.Accounts.Register(ctx, in); !errors.Is(err, places.ErrEmailTaken) {
		t.Fatalf("second Register() error = %v, want ErrEmailTaken", err)
	}
}

// --- Cascade ---

func TestRemove_CascadesThroughStream(t *testing.T) {
	ctx := context.Background()
	u := register(t, "ann")
	p1 := create(t, "Cafe", u.ID)
	p2 := create(t, "Park", u.ID)

	before := rawUser(t, u.ID)
	if err := rt.Accounts.Remove(ctx, u.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	after := rawUser(t, u.ID)
	if _, ok := after["ttl"]; !ok {
		t.Fatal("expected ttl on removed user")
	}

	handler := stream.NewHandler(rt.Store, zerolog.Nop())
	err := handler.HandleCascadeDelete(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{{
			EventID:   "1",
			EventName: "MODIFY",
			Change: events.DynamoDBStreamRecord{
				OldImage: streamImage(before),
				NewImage: streamImage(after),
			},
		}},
	})
	if err != nil {
		t.Fatalf("HandleCascadeDelete() error = %v", err)
	}

	for _, id := range []string{p1.ID, p2.ID} {
		if _, err := rt.Linker.GetByID(ctx, id); !errors.Is(err, places.ErrPlaceNotFound) {
			t.Errorf("GetByID(%s) error = %v, want ErrPlaceNotFound", id, err)
		}
	}

	// Replaying the record is harmless.
	if err := handler.HandleCascadeDelete(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{{
			EventName: "MODIFY",
			Change:    events.DynamoDBStreamRecord{OldImage: streamImage(before), NewImage: streamImage(after)},
		}},
	}); err != nil {
		t.Errorf("replay error = %v", err)
	}
}

func rawUser(t *testing.T, id string) map[string]types.AttributeValue {
	t.Helper()
	out, err := ddbClient.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      aws.String(cfg.DynamoDB.UsersTable),
		Key:            store.PK{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	return out.Item
}

// streamImage converts an item as read through the SDK into its stream form.
func streamImage(item map[string]types.AttributeValue) map[string]events.DynamoDBAttributeValue {
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		out[k] = streamValue(v)
	}
	return out
}

func streamValue(v types.AttributeValue) events.DynamoDBAttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(tv.Value)
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(tv.Value)
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(tv.Value)
	case *types.AttributeValueMemberSS:
		return events.NewStringSetAttribute(tv.Value)
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			list[i] = streamValue(e)
		}
		return events.NewListAttribute(list)
	case *types.AttributeValueMemberM:
		return events.NewMapAttribute(streamImage(tv.Value))
	default:
		return events.NewNullAttribute()
	}
}
