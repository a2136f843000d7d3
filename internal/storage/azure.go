package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// AzureStorage keeps run outputs and monitor state in Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

var _ ConditionalStorage = (*AzureStorage)(nil)

// NewAzureStorage creates a blob client authenticated with the default Azure
// credential chain (managed identity in the cluster, az login locally)
func NewAzureStorage(accountName, containerName string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	storage := &AzureStorage{
		client:        client,
		containerName: containerName,
	}

	if err := storage.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return storage, nil
}

func (s *AzureStorage) ensureContainer() error {
	_, err := s.client.CreateContainer(context.Background(), s.containerName, nil)
	switch {
	case err == nil:
		logrus.Infof("Created container %s", s.containerName)
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		logrus.Debugf("Container %s already exists", s.containerName)
	default:
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Store uploads data, replacing any existing blob of the same name
func (s *AzureStorage) Store(filename string, data []byte) error {
	return s.upload(filename, data, nil)
}

// StoreIfVersion uploads data only while the blob still has the given ETag,
// or does not exist yet when version is empty
func (s *AzureStorage) StoreIfVersion(filename string, data []byte, version string) error {
	conditions := &blob.ModifiedAccessConditions{}
	if version == "" {
		none := azcore.ETagAny
		conditions.IfNoneMatch = &none
	} else {
		etag := azcore.ETag(version)
		conditions.IfMatch = &etag
	}

	err := s.upload(filename, data, &blob.AccessConditions{ModifiedAccessConditions: conditions})
	if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
		return fmt.Errorf("blob %s: %w", filename, ErrPreconditionFailed)
	}
	return err
}

func (s *AzureStorage) upload(filename string, data []byte, conditions *blob.AccessConditions) error {
	_, err := s.client.UploadBuffer(context.Background(), s.containerName, filename, data, &azblob.UploadBufferOptions{
		BlockSize:        int64(1024 * 1024),
		Concurrency:      3,
		AccessConditions: conditions,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", filename, err)
	}

	logrus.Debugf("Stored %s (%d bytes) in container %s", filename, len(data), s.containerName)
	return nil
}

// Retrieve downloads a blob. A missing blob wraps ErrNotFound.
func (s *AzureStorage) Retrieve(filename string) ([]byte, error) {
	data, _, err := s.RetrieveVersion(filename)
	return data, err
}

// RetrieveVersion downloads a blob together with its ETag
func (s *AzureStorage) RetrieveVersion(filename string) ([]byte, string, error) {
	response, err := s.client.DownloadStream(context.Background(), s.containerName, filename, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, "", fmt.Errorf("blob %s: %w", filename, ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to download blob %s: %w", filename, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", filename, err)
	}

	version := ""
	if response.ETag != nil {
		version = string(*response.ETag)
	}
	return data, version, nil
}

// List returns the names of all blobs under prefix
func (s *AzureStorage) List(prefix string) ([]string, error) {
	ctx := context.Background()

	var blobNames []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs under %s: %w", prefix, err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name != nil {
				blobNames = append(blobNames, *blob.Name)
			}
		}
	}

	return blobNames, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *AzureStorage) Delete(filename string) error {
	_, err := s.client.DeleteBlob(context.Background(), s.containerName, filename, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete blob %s: %w", filename, err)
	}
	return nil
}
