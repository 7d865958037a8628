package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreUploadsCollection = "uploads"

// FirestoreProvider implements the Registry interface using Google Cloud Firestore.
// Each upload record is a document in the "uploads" collection keyed by the upload ID.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Registry = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is allowed and detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) uploads() *firestore.CollectionRef {
	return f.client.Collection(firestoreUploadsCollection)
}

// PutUpload stores the record as a JSON blob alongside its upload time so the
// collection can be ordered without decoding every document.
func (f *FirestoreProvider) PutUpload(ctx context.Context, file types.UploadedFile) error {
	if file.ID == "" {
		return fmt.Errorf("upload id cannot be empty")
	}
	jsonBytes, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal upload: %w", err)
	}
	_, err = f.uploads().Doc(file.ID).Set(ctx, map[string]interface{}{
		"json":       string(jsonBytes),
		"uploadedAt": file.UploadedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// GetUpload fetches a single upload record.
func (f *FirestoreProvider) GetUpload(ctx context.Context, id string) (types.UploadedFile, error) {
	if id == "" {
		return types.UploadedFile{}, ErrUploadNotFound
	}
	doc, err := f.uploads().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.UploadedFile{}, ErrUploadNotFound
		}
		return types.UploadedFile{}, fmt.Errorf("failed to fetch upload doc: %w", err)
	}
	return decodeUploadDoc(ctx, doc)
}

// DeleteUpload removes the record. Firestore deletes are idempotent so the
// document is read first to report whether it existed.
func (f *FirestoreProvider) DeleteUpload(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ref := f.uploads().Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch upload doc: %w", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return false, fmt.Errorf("failed to delete upload: %w", err)
	}
	return true, nil
}

// ListUploads returns every record ordered by upload time.
func (f *FirestoreProvider) ListUploads(ctx context.Context) ([]types.UploadedFile, error) {
	iter := f.uploads().OrderBy("uploadedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var files []types.UploadedFile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating uploads: %w", err)
		}
		file, err := decodeUploadDoc(ctx, doc)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files, nil
}

func decodeUploadDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.UploadedFile, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "upload doc missing json", slog.String("fileID", doc.Ref.ID), slog.Any("err", err))
		return types.UploadedFile{}, fmt.Errorf("upload document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "upload doc json not string", slog.String("fileID", doc.Ref.ID))
		return types.UploadedFile{}, fmt.Errorf("upload document %s 'json' field is not a string", doc.Ref.ID)
	}
	var file types.UploadedFile
	if err := json.Unmarshal([]byte(jsonStr), &file); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal upload json", slog.String("fileID", doc.Ref.ID), slog.Any("err", err))
		return types.UploadedFile{}, fmt.Errorf("failed to unmarshal upload (id=%s): %w", doc.Ref.ID, err)
	}
	return file, nil
}
