package statusmap

import "github.com/BearBump/ShipSync/internal/models"

// SubStatusUnclassified — терминальное значение классификатора для строк
// вне словаря. Разрешается только через fallback-строку главного статуса.
const SubStatusUnclassified = "Unclassified"

// Закрытый словарь суб-статусов агрегатора по главным статусам.
// Никакого угадывания по подстрокам: строка либо в словаре, либо Unclassified.
var subVocabulary = map[string][]string{
	models.AggStatusNotFound: {
		"NotFound_Other",
		"NotFound_InvalidCode",
	},
	models.AggStatusInfoReceived: {
		"InfoReceived_Other",
	},
	models.AggStatusInTransit: {
		"InTransit_Other",
		"InTransit_PickedUp",
		"InTransit_Departure",
		"InTransit_Arrival",
		"InTransit_CustomsProcessing",
		"InTransit_CustomsReleased",
		"InTransit_CustomsRequiringInformation",
	},
	models.AggStatusExpired: {
		"Expired_Other",
	},
	models.AggStatusAvailableForPickup: {
		"AvailableForPickup_Other",
	},
	models.AggStatusOutForDelivery: {
		"OutForDelivery_Other",
	},
	models.AggStatusDeliveryFailure: {
		"DeliveryFailure_Other",
		"DeliveryFailure_NoBody",
		"DeliveryFailure_Security",
		"DeliveryFailure_Rejected",
		"DeliveryFailure_InvalidAddress",
	},
	models.AggStatusDelivered: {
		"Delivered_Other",
	},
	models.AggStatusException: {
		"Exception_Other",
		"Exception_Returning",
		"Exception_Returned",
		"Exception_NoBody",
		"Exception_Security",
		"Exception_Damage",
		"Exception_Rejected",
		"Exception_Delayed",
		"Exception_Lost",
		"Exception_Destroyed",
		"Exception_Cancel",
	},
}

var subIndex = func() map[string]map[string]struct{} {
	idx := make(map[string]map[string]struct{}, len(subVocabulary))
	for main, subs := range subVocabulary {
		set := make(map[string]struct{}, len(subs))
		for _, s := range subs {
			set[s] = struct{}{}
		}
		idx[main] = set
	}
	return idx
}()

// Classify сводит сырой суб-статус к каноническому значению словаря.
// Пустой суб-статус остаётся пустым: резолвер сразу пойдёт в fallback.
func Classify(main, rawSub string) string {
	if rawSub == "" {
		return ""
	}
	set, ok := subIndex[main]
	if !ok {
		return SubStatusUnclassified
	}
	if _, ok := set[rawSub]; ok {
		return rawSub
	}
	return SubStatusUnclassified
}
