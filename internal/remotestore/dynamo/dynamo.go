// Package dynamo implements the remote store on DynamoDB.
//
// The layout is a single table keyed by tenant-scoped partition keys:
//
//	<tenant>#shipments                                  sk = business key
//	<tenant>#shipment#<parentKey>#boxes                 sk = ordinal
//	<tenant>#shipment#<parentKey>#box#<ordinal>#products sk = ordinal
//	<tenant>#dim#<kind>                                 sk = name
//
// Children live under a parent business key path segment, which is why two
// historical writers can leave the same shipment's boxes under either of
// its business keys.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/session"
)

// Config holds table settings.
type Config struct {
	// Table is the DynamoDB table name holding all collections.
	Table string
}

func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "waybill"
	}
}

// Store is a DynamoDB-backed remotestore.Store.
type Store struct {
	client *dynamodb.Client
	config Config
}

// New creates a Store using the given DynamoDB client.
func New(client *dynamodb.Client, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config}
}

var _ remotestore.Store = (*Store)(nil)

func shipmentsPK(sess session.Session) string {
	return sess.Tenant + "#shipments"
}

func boxesPK(sess session.Session, parentKey string) string {
	return fmt.Sprintf("%s#shipment#%s#boxes", sess.Tenant, parentKey)
}

func productsPK(sess session.Session, parentKey string, boxOrdinal int) string {
	return fmt.Sprintf("%s#shipment#%s#box#%04d#products", sess.Tenant, parentKey, boxOrdinal)
}

func dimensionsPK(sess session.Session, kind model.DimensionKind) string {
	return fmt.Sprintf("%s#dim#%s", sess.Tenant, kind)
}

func ordinalSK(ordinal int) string {
	return fmt.Sprintf("%04d", ordinal)
}

// classify maps transport failures onto the remotestore error taxonomy.
// Non-transport errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", remotestore.ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return fmt.Errorf("%w: %v", remotestore.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", remotestore.ErrUnavailable, err)
	}
	// The SDK nests dial errors several layers deep; a conservative string
	// check catches the remainder without a transport import.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return fmt.Errorf("%w: %v", remotestore.ErrUnavailable, err)
	}
	return err
}

// shipmentItem is the wire shape of a shipment record.
type shipmentItem struct {
	PK          string `dynamodbav:"pk"`
	SK          string `dynamodbav:"sk"`
	RemoteID    string `dynamodbav:"remote_id"`
	InvoiceNo   string `dynamodbav:"invoice_no,omitempty"`
	AWBNo       string `dynamodbav:"awb_no,omitempty"`
	ShipperID   string `dynamodbav:"shipper_id,omitempty"`
	ConsigneeID string `dynamodbav:"consignee_id,omitempty"`
	Origin      string `dynamodbav:"origin,omitempty"`
	Destination string `dynamodbav:"destination,omitempty"`
	Status      string `dynamodbav:"status"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

// ListShipments fetches every shipment record for the tenant.
func (s *Store) ListShipments(ctx context.Context, sess session.Session) ([]*model.Shipment, error) {
	items, err := s.queryPartition(ctx, shipmentsPK(sess))
	if err != nil {
		return nil, err
	}

	var shipments []*model.Shipment
	for _, raw := range items {
		var item shipmentItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal shipment: %w", err)
		}
		shipments = append(shipments, &model.Shipment{
			RemoteID:    item.RemoteID,
			InvoiceNo:   item.InvoiceNo,
			AWBNo:       item.AWBNo,
			ShipperID:   item.ShipperID,
			ConsigneeID: item.ConsigneeID,
			Origin:      item.Origin,
			Destination: item.Destination,
			Status:      item.Status,
			CreatedAt:   parseTime(item.CreatedAt),
			UpdatedAt:   parseTime(item.UpdatedAt),
		})
	}
	return shipments, nil
}

// UpsertShipment writes a shipment under its primary business key and
// returns the remote identifier.
func (s *Store) UpsertShipment(ctx context.Context, sess session.Session, sh *model.Shipment) (string, error) {
	if err := sh.Validate(); err != nil {
		return "", err
	}
	remoteID := sh.RemoteID
	if remoteID == "" {
		remoteID = uuid.NewString()
	}

	item := shipmentItem{
		PK:          shipmentsPK(sess),
		SK:          sh.PrimaryKey(),
		RemoteID:    remoteID,
		InvoiceNo:   sh.InvoiceNo,
		AWBNo:       sh.AWBNo,
		ShipperID:   sh.ShipperID,
		ConsigneeID: sh.ConsigneeID,
		Origin:      sh.Origin,
		Destination: sh.Destination,
		Status:      sh.Status,
		CreatedAt:   formatTime(sh.CreatedAt),
		UpdatedAt:   formatTime(sh.UpdatedAt),
	}
	if err := s.putItem(ctx, item); err != nil {
		return "", err
	}
	return remoteID, nil
}

// DeleteShipment removes the shipment stored under key.
func (s *Store) DeleteShipment(ctx context.Context, sess session.Session, key string) (bool, error) {
	return s.deleteItem(ctx, shipmentsPK(sess), key)
}

// boxItem is the wire shape of a box record.
type boxItem struct {
	PK        string  `dynamodbav:"pk"`
	SK        string  `dynamodbav:"sk"`
	RemoteID  string  `dynamodbav:"remote_id"`
	Ordinal   int     `dynamodbav:"ordinal"`
	WeightKg  float64 `dynamodbav:"weight_kg,omitempty"`
	LengthCm  float64 `dynamodbav:"length_cm,omitempty"`
	WidthCm   float64 `dynamodbav:"width_cm,omitempty"`
	HeightCm  float64 `dynamodbav:"height_cm,omitempty"`
	CreatedAt string  `dynamodbav:"created_at"`
	UpdatedAt string  `dynamodbav:"updated_at"`
}

// ListBoxes fetches the boxes stored under one parent business key.
func (s *Store) ListBoxes(ctx context.Context, sess session.Session, parentKey string) ([]*model.Box, error) {
	items, err := s.queryPartition(ctx, boxesPK(sess, parentKey))
	if err != nil {
		return nil, err
	}

	var boxes []*model.Box
	for _, raw := range items {
		var item boxItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal box: %w", err)
		}
		boxes = append(boxes, &model.Box{
			RemoteID:  item.RemoteID,
			ParentKey: parentKey,
			Ordinal:   item.Ordinal,
			WeightKg:  item.WeightKg,
			LengthCm:  item.LengthCm,
			WidthCm:   item.WidthCm,
			HeightCm:  item.HeightCm,
			CreatedAt: parseTime(item.CreatedAt),
			UpdatedAt: parseTime(item.UpdatedAt),
		})
	}
	return boxes, nil
}

// UpsertBox writes a box under the parent business key.
func (s *Store) UpsertBox(ctx context.Context, sess session.Session, parentKey string, b *model.Box) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	remoteID := b.RemoteID
	if remoteID == "" {
		remoteID = uuid.NewString()
	}

	item := boxItem{
		PK:        boxesPK(sess, parentKey),
		SK:        ordinalSK(b.Ordinal),
		RemoteID:  remoteID,
		Ordinal:   b.Ordinal,
		WeightKg:  b.WeightKg,
		LengthCm:  b.LengthCm,
		WidthCm:   b.WidthCm,
		HeightCm:  b.HeightCm,
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
	}
	if err := s.putItem(ctx, item); err != nil {
		return "", err
	}
	return remoteID, nil
}

// DeleteBox removes the box at ordinal under the parent business key.
func (s *Store) DeleteBox(ctx context.Context, sess session.Session, parentKey string, ordinal int) (bool, error) {
	return s.deleteItem(ctx, boxesPK(sess, parentKey), ordinalSK(ordinal))
}

// productItem is the wire shape of a product record.
type productItem struct {
	PK          string  `dynamodbav:"pk"`
	SK          string  `dynamodbav:"sk"`
	RemoteID    string  `dynamodbav:"remote_id"`
	Ordinal     int     `dynamodbav:"ordinal"`
	Description string  `dynamodbav:"description"`
	KindID      string  `dynamodbav:"kind_id,omitempty"`
	Quantity    int     `dynamodbav:"quantity"`
	UnitValue   float64 `dynamodbav:"unit_value,omitempty"`
	CreatedAt   string  `dynamodbav:"created_at"`
	UpdatedAt   string  `dynamodbav:"updated_at"`
}

// ListProducts fetches the products of one box position under a parent key.
func (s *Store) ListProducts(ctx context.Context, sess session.Session, parentKey string, boxOrdinal int) ([]*model.Product, error) {
	items, err := s.queryPartition(ctx, productsPK(sess, parentKey, boxOrdinal))
	if err != nil {
		return nil, err
	}

	var products []*model.Product
	for _, raw := range items {
		var item productItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
		products = append(products, &model.Product{
			RemoteID:    item.RemoteID,
			ParentKey:   parentKey,
			BoxOrdinal:  boxOrdinal,
			Ordinal:     item.Ordinal,
			Description: item.Description,
			KindID:      item.KindID,
			Quantity:    item.Quantity,
			UnitValue:   item.UnitValue,
			CreatedAt:   parseTime(item.CreatedAt),
			UpdatedAt:   parseTime(item.UpdatedAt),
		})
	}
	return products, nil
}

// UpsertProduct writes a product under the parent key and box ordinal.
func (s *Store) UpsertProduct(ctx context.Context, sess session.Session, parentKey string, p *model.Product) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	remoteID := p.RemoteID
	if remoteID == "" {
		remoteID = uuid.NewString()
	}

	item := productItem{
		PK:          productsPK(sess, parentKey, p.BoxOrdinal),
		SK:          ordinalSK(p.Ordinal),
		RemoteID:    remoteID,
		Ordinal:     p.Ordinal,
		Description: p.Description,
		KindID:      p.KindID,
		Quantity:    p.Quantity,
		UnitValue:   p.UnitValue,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
	if err := s.putItem(ctx, item); err != nil {
		return "", err
	}
	return remoteID, nil
}

// DeleteProduct removes one product position.
func (s *Store) DeleteProduct(ctx context.Context, sess session.Session, parentKey string, boxOrdinal, ordinal int) (bool, error) {
	return s.deleteItem(ctx, productsPK(sess, parentKey, boxOrdinal), ordinalSK(ordinal))
}

// dimensionItem is the wire shape of a master-data record.
type dimensionItem struct {
	PK        string            `dynamodbav:"pk"`
	SK        string            `dynamodbav:"sk"`
	RemoteID  string            `dynamodbav:"remote_id"`
	Name      string            `dynamodbav:"name"`
	Attr      map[string]string `dynamodbav:"attr,omitempty"`
	CreatedAt string            `dynamodbav:"created_at"`
	UpdatedAt string            `dynamodbav:"updated_at"`
}

// ListDimensions fetches all master-data records of one kind.
func (s *Store) ListDimensions(ctx context.Context, sess session.Session, kind model.DimensionKind) ([]*model.Dimension, error) {
	items, err := s.queryPartition(ctx, dimensionsPK(sess, kind))
	if err != nil {
		return nil, err
	}

	var dims []*model.Dimension
	for _, raw := range items {
		var item dimensionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal dimension: %w", err)
		}
		dims = append(dims, &model.Dimension{
			RemoteID:  item.RemoteID,
			Kind:      kind,
			Name:      item.Name,
			Attr:      item.Attr,
			CreatedAt: parseTime(item.CreatedAt),
			UpdatedAt: parseTime(item.UpdatedAt),
		})
	}
	return dims, nil
}

// UpsertDimension writes a master-data record keyed by kind and name.
func (s *Store) UpsertDimension(ctx context.Context, sess session.Session, d *model.Dimension) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	remoteID := d.RemoteID
	if remoteID == "" {
		remoteID = uuid.NewString()
	}

	item := dimensionItem{
		PK:        dimensionsPK(sess, d.Kind),
		SK:        d.Name,
		RemoteID:  remoteID,
		Name:      d.Name,
		Attr:      d.Attr,
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
	}
	if err := s.putItem(ctx, item); err != nil {
		return "", err
	}
	return remoteID, nil
}

// DeleteDimension removes a master-data record by kind and name.
func (s *Store) DeleteDimension(ctx context.Context, sess session.Session, kind model.DimensionKind, name string) (bool, error) {
	return s.deleteItem(ctx, dimensionsPK(sess, kind), name)
}

// queryPartition pages through every item in one partition.
func (s *Store) queryPartition(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *Store) putItem(ctx context.Context, record interface{}) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      item,
	})
	return classify(err)
}

func (s *Store) deleteItem(ctx context.Context, pk, sk string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, classify(err)
	}
	return len(out.Attributes) > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
