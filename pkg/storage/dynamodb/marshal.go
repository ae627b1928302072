package dynamodb

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mtnfog/entitydb/pkg/entity"
)

func marshalEntity(s *entity.StoredEntity) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":          &types.AttributeValueMemberS{Value: s.ID},
		"text":        &types.AttributeValueMemberS{Value: s.Text},
		"type":        &types.AttributeValueMemberS{Value: s.Type},
		"confidence":  &types.AttributeValueMemberN{Value: strconv.FormatFloat(s.Confidence, 'f', -1, 64)},
		"context":     &types.AttributeValueMemberS{Value: s.Context},
		"document_id": &types.AttributeValueMemberS{Value: s.DocumentID},
		"acl":         &types.AttributeValueMemberS{Value: s.ACL},
		"visible":     &types.AttributeValueMemberBOOL{Value: s.Visible},
		"ts":          &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Timestamp, 10)},
		"indexed":     &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Indexed, 10)},
	}

	if s.URI != "" {
		item["uri"] = &types.AttributeValueMemberS{Value: s.URI}
	}
	if s.LanguageCode != "" {
		item["language_code"] = &types.AttributeValueMemberS{Value: s.LanguageCode}
	}

	if s.Indexed == 0 {
		// Sparse marker backing the pending-timestamp GSI.
		item["pending"] = &types.AttributeValueMemberS{Value: pendingMarker}
	}

	if len(s.Metadata) > 0 {
		md := make(map[string]types.AttributeValue, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = &types.AttributeValueMemberS{Value: v}
		}
		item["md"] = &types.AttributeValueMemberM{Value: md}
	}

	return item
}

func unmarshalEntity(item map[string]types.AttributeValue) (*entity.StoredEntity, error) {
	s := &entity.StoredEntity{}

	var err error
	if s.ID, err = stringAttr(item, "id"); err != nil {
		return nil, err
	}
	if s.Text, err = stringAttr(item, "text"); err != nil {
		return nil, err
	}
	if s.Type, err = stringAttr(item, "type"); err != nil {
		return nil, err
	}
	if s.Context, err = stringAttr(item, "context"); err != nil {
		return nil, err
	}
	if s.DocumentID, err = stringAttr(item, "document_id"); err != nil {
		return nil, err
	}
	if s.ACL, err = stringAttr(item, "acl"); err != nil {
		return nil, err
	}

	s.URI = optionalStringAttr(item, "uri")
	s.LanguageCode = optionalStringAttr(item, "language_code")

	if s.Confidence, err = floatAttr(item, "confidence"); err != nil {
		return nil, err
	}
	if s.Timestamp, err = intAttr(item, "ts"); err != nil {
		return nil, err
	}
	if s.Indexed, err = intAttr(item, "indexed"); err != nil {
		return nil, err
	}

	if v, ok := item["visible"].(*types.AttributeValueMemberBOOL); ok {
		s.Visible = v.Value
	}

	if md, ok := item["md"].(*types.AttributeValueMemberM); ok {
		s.Metadata = make(map[string]string, len(md.Value))
		for k, v := range md.Value {
			if sv, ok := v.(*types.AttributeValueMemberS); ok {
				s.Metadata[k] = sv.Value
			}
		}
	}

	return s, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing or invalid %q attribute", name)
	}
	return v.Value, nil
}

func optionalStringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func floatAttr(item map[string]types.AttributeValue, name string) (float64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("missing or invalid %q attribute", name)
	}
	return strconv.ParseFloat(v.Value, 64)
}

func intAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("missing or invalid %q attribute", name)
	}
	return strconv.ParseInt(v.Value, 10, 64)
}
