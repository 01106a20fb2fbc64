package knowledge

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"relay/api/internal/store"
	"relay/api/internal/util"
)

// DocumentStore is the persistence contract for document metadata.
type DocumentStore interface {
	InsertKnowledgeDocument(ctx context.Context, doc store.KnowledgeDocument) error
	GetKnowledgeDocument(ctx context.Context, companyID, docID string) (store.KnowledgeDocument, error)
	ListKnowledgeDocuments(ctx context.Context, companyID string) ([]store.KnowledgeDocument, error)
	UpdateKnowledgeDocumentStatus(ctx context.Context, docID, status string) error
}

// Objects is the blob storage surface the service needs.
type Objects interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (int64, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Index is the full-text surface the service needs.
type Index interface {
	IndexDocument(doc DocumentRecord) error
	Search(companyID, query string, limit int) ([]SearchHit, error)
	Healthy() bool
}

// Embedder notifies the vectorization pipeline.
type Embedder interface {
	NotifyDocument(ctx context.Context, documentID, companyID, objectKey, filename string) error
}

// Service runs the document pipeline: validate, store the object, record
// metadata, then index and notify the embedder in the background. Indexing
// and embedding are best-effort; the upload succeeds once object and row
// are durable.
type Service struct {
	docs     DocumentStore
	objects  Objects
	index    Index
	embedder Embedder
}

func NewService(docs DocumentStore, objects Objects, index Index, embedder Embedder) *Service {
	return &Service{docs: docs, objects: objects, index: index, embedder: embedder}
}

// UploadsEnabled reports whether object storage is configured.
func (s *Service) UploadsEnabled() bool {
	return s.objects != nil
}

// UploadRequest carries one document upload.
type UploadRequest struct {
	CompanyID  string
	AgentID    string
	Filename   string
	Size       int64
	Body       io.Reader
	UploadedBy string
	Text       string // extracted text for indexing, may be empty
}

// Upload validates and stores a document, then kicks off indexing and
// embedding asynchronously.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (store.KnowledgeDocument, error) {
	if s.objects == nil {
		return store.KnowledgeDocument{}, fmt.Errorf("document uploads are not configured")
	}

	contentType, err := ValidateUpload(req.Filename, req.Size)
	if err != nil {
		return store.KnowledgeDocument{}, err
	}

	docID := util.NewID("doc")
	objectKey := fmt.Sprintf("%s/%s/%s", req.CompanyID, docID, req.Filename)

	size, err := s.objects.Put(ctx, objectKey, req.Body, req.Size, contentType)
	if err != nil {
		return store.KnowledgeDocument{}, fmt.Errorf("store object: %w", err)
	}

	doc := store.KnowledgeDocument{
		ID:          docID,
		CompanyID:   req.CompanyID,
		FileName:    req.Filename,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
		Status:      store.DocumentUploaded,
		UploadedBy:  req.UploadedBy,
	}
	if req.AgentID != "" {
		agentID := req.AgentID
		doc.AgentID = &agentID
	}
	if err := s.docs.InsertKnowledgeDocument(ctx, doc); err != nil {
		return store.KnowledgeDocument{}, fmt.Errorf("record document: %w", err)
	}

	go s.process(doc, req.Text)

	return doc, nil
}

// process indexes and notifies the embedder after the upload is durable.
// It runs detached from the request context.
func (s *Service) process(doc store.KnowledgeDocument, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	status := store.DocumentIndexed

	if s.index != nil {
		record := DocumentRecord{
			ID:        doc.ID,
			CompanyID: doc.CompanyID,
			Filename:  doc.FileName,
			Text:      text,
			Status:    store.DocumentIndexed,
		}
		if doc.AgentID != nil {
			record.AgentID = *doc.AgentID
		}
		if err := s.index.IndexDocument(record); err != nil {
			log.Printf("knowledge: index document %s: %v", doc.ID, err)
			status = store.DocumentProcessingFailed
		}
	}

	if s.embedder != nil {
		if err := s.embedder.NotifyDocument(ctx, doc.ID, doc.CompanyID, doc.ObjectKey, doc.FileName); err != nil {
			log.Printf("knowledge: notify embedder for %s: %v", doc.ID, err)
			status = store.DocumentProcessingFailed
		}
	}

	if err := s.docs.UpdateKnowledgeDocumentStatus(ctx, doc.ID, status); err != nil {
		log.Printf("knowledge: update status for %s: %v", doc.ID, err)
	}
}

// List returns the company's documents.
func (s *Service) List(ctx context.Context, companyID string) ([]store.KnowledgeDocument, error) {
	return s.docs.ListKnowledgeDocuments(ctx, companyID)
}

// DownloadURL returns a short-lived link for one document.
func (s *Service) DownloadURL(ctx context.Context, companyID, docID string) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("document storage is not configured")
	}
	doc, err := s.docs.GetKnowledgeDocument(ctx, companyID, docID)
	if err != nil {
		return "", err
	}
	return s.objects.PresignedURL(ctx, doc.ObjectKey, 15*time.Minute)
}

// Search runs a company-scoped full-text query over indexed documents.
func (s *Service) Search(ctx context.Context, companyID, query string, limit int) ([]SearchHit, error) {
	if s.index == nil {
		return nil, fmt.Errorf("search is not configured")
	}
	return s.index.Search(companyID, query, limit)
}
