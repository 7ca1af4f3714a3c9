package flow

import "github.com/kompomir/servicebot/intake/field"

func nameStep() FieldSpec {
	return FieldSpec{Key: "name", Label: "Имя", Prompt: "👤 Как к Вам обращаться?", Validator: field.NonEmpty()}
}

func phoneStep() FieldSpec {
	return FieldSpec{Key: "phone", Label: "Телефон", Prompt: "📞 Укажите контактный телефон (например, +380671234567).", Validator: field.Phone()}
}

func optional(key, label, prompt string) FieldSpec {
	return FieldSpec{Key: key, Label: label, Prompt: prompt, Validator: field.FreeText(field.DefaultPlaceholder), Optional: true}
}

// Defaults returns the built-in flow definitions in menu order.
func Defaults() []*Definition {
	return []*Definition{
		{
			ID: Repair,
			Variants: []Variant{
				{Key: string(Repair), Title: "Ремонт техники", Button: "🧰 Записаться на ремонт"},
				{Key: VariantSysadmin, Title: "Вызов системного администратора", Button: "🖥 Вызвать системного администратора"},
			},
			Steps: []FieldSpec{
				nameStep(),
				phoneStep(),
				{Key: "equipment", Label: "Тип техники", Prompt: "💻 Какая техника? (ноутбук, ПК, принтер, ...)", Validator: field.NonEmpty()},
				optional("brand", "Бренд", "🏷 Укажите бренд."),
				optional("model", "Модель", "🔖 Укажите модель."),
				{Key: "problem", Label: "Описание проблемы", Prompt: "🛠 Опишите проблему. Что не работает?", Validator: field.NonEmpty()},
			},
		},
		{
			ID: Courier,
			Variants: []Variant{
				{Key: string(Courier), Title: "Вызов курьера", Button: "🚚 Вызвать курьера"},
			},
			Steps: []FieldSpec{
				nameStep(),
				phoneStep(),
				{Key: "equipment", Label: "Тип техники", Prompt: "💻 Какую технику нужно забрать?", Validator: field.NonEmpty()},
				optional("brand", "Бренд", "🏷 Укажите бренд."),
				optional("model", "Модель", "🔖 Укажите модель."),
				optional("dimensions", "Габариты", "📦 Примерные габариты или вес."),
				{Key: "address", Label: "Адрес", Prompt: "📍 Адрес, откуда забрать технику.", Validator: field.NonEmpty()},
			},
		},
		{
			ID: Cartridge,
			Variants: []Variant{
				{Key: string(Cartridge), Title: "Заправка картриджей", Button: "🖨 Заправка картриджей"},
			},
			Steps: []FieldSpec{
				nameStep(),
				phoneStep(),
				{Key: "printer_brand", Label: "Бренд принтера", Prompt: "🖨 Укажите бренд принтера.", Validator: field.NonEmpty()},
				optional("printer_model", "Модель принтера", "🔖 Укажите модель принтера."),
				optional("cartridge_model", "Модель картриджа", "🧪 Укажите модель картриджа."),
				{Key: "address", Label: "Адрес", Prompt: "📍 Адрес для курьера или «самовывоз».", Validator: field.NonEmpty()},
			},
		},
	}
}
