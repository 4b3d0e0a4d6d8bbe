package calendar

import "strings"

// Lookup glosses an event title for a locale. It is best-effort: unmatched
// titles pass through unchanged. A real translation service can replace the
// static dictionary without touching the normalizer.
type Lookup interface {
	Translate(locale, title string) string
}

// StaticLookup is a substring dictionary over well-known economic terms.
type StaticLookup struct{}

type glossEntry struct {
	term  string
	gloss string
}

// Ukrainian glosses for common calendar titles. Substring match, first hit
// wins, so more specific terms come before generic ones.
var ukGlosses = []glossEntry{
	{"CPI y/y", "Індекс споживчих цін (р/р)"},
	{"CPI m/m", "Індекс споживчих цін (м/м)"},
	{"CPI q/q", "Індекс споживчих цін (к/к)"},
	{"Core CPI", "Базовий ІСЦ"},
	{"PPI y/y", "Індекс цін виробників (р/р)"},
	{"PPI m/m", "Індекс цін виробників (м/м)"},
	{"Core PPI", "Базовий ІЦВ"},

	{"Prelim GDP", "Попередній ВВП"},
	{"Final GDP", "Кінцевий ВВП"},
	{"GDP q/q", "Валовий внутрішній продукт (к/к)"},
	{"GDP y/y", "Валовий внутрішній продукт (р/р)"},
	{"GDP m/m", "Валовий внутрішній продукт (м/м)"},
	{"GDP Growth", "Зростання ВВП"},

	{"Flash Manufacturing PMI", "Попередній виробничий PMI"},
	{"Flash Services PMI", "Попередній сервісний PMI"},
	{"Manufacturing PMI", "Індекс виробничої активності (PMI)"},
	{"Services PMI", "Індекс ділової активності у сфері послуг (PMI)"},
	{"Composite PMI", "Композитний PMI"},

	{"Unemployment Rate", "Рівень безробіття"},
	{"Unemployment Claims", "Заявки на допомогу по безробіттю"},
	{"Employment Change", "Зміна кількості зайнятих"},
	{"Non-Farm Employment Change", "Зміна зайнятості поза с/г"},
	{"Claimant Count Change", "Зміна кількості заявок на допомогу"},
	{"Average Earnings", "Середній заробіток"},
	{"Wage Growth", "Зростання заробітної плати"},

	{"Interest Rate Decision", "Рішення щодо процентної ставки"},
	{"Monetary Policy Statement", "Заява монетарної політики"},
	{"Rate Statement", "Заява про процентну ставку"},
	{"FOMC Statement", "Заява ФРС (FOMC)"},
	{"ECB Press Conference", "Пресконференція ЄЦБ"},
	{"BOJ Policy Statement", "Заява Банку Японії щодо політики"},
	{"Inflation Rate", "Рівень інфляції"},
	{"Core Inflation", "Базова інфляція"},

	{"Trade Balance", "Торговельний баланс"},
	{"Current Account", "Поточний рахунок"},
	{"Core Retail Sales", "Базові роздрібні продажі"},
	{"Retail Sales", "Роздрібні продажі"},
	{"Industrial Production", "Промислове виробництво"},
	{"Durable Goods Orders", "Замовлення на товари тривалого користування"},
	{"Building Permits", "Дозволи на будівництво"},
	{"Housing Starts", "Нові будівництва житла"},

	{"Consumer Confidence", "Споживча впевненість"},
	{"Business Confidence", "Ділова впевненість"},
	{"Consumer Sentiment", "Споживчі настрої"},

	{"Bank Holiday", "Банківський вихідний"},
	{"Holiday", "Свято (ринок закритий)"},
	{"Tentative", "Попередньо"},
	{"PMI", "Індекс ділової активності (PMI)"},
}

func (StaticLookup) Translate(locale, title string) string {
	if title == "" {
		return title
	}
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "", "en":
		return title
	case "uk", "ua":
		lowered := strings.ToLower(title)
		for _, e := range ukGlosses {
			if strings.Contains(lowered, strings.ToLower(e.term)) {
				return e.gloss
			}
		}
		return title
	default:
		return title
	}
}
